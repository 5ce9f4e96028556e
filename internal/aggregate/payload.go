package aggregate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const identitySchema = `{
  "type": "object",
  "properties": {
    "examId": {"type": ["string", "number"]},
    "setId": {"type": ["string", "number"]},
    "set": {"type": "string"},
    "classId": {"type": ["string", "number"]},
    "studentId": {"type": ["string", "number"]},
    "rollNumber": {"type": ["string", "number"]},
    "registrationNo": {"type": ["string", "number"]},
    "subjectCode": {"type": ["string", "number"]}
  },
  "anyOf": [
    {"required": ["examId"]},
    {"required": ["setId"]},
    {"required": ["studentId"]},
    {"required": ["rollNumber"]},
    {"required": ["registrationNo"]}
  ]
}`

const timestampSchema = `{
  "type": "object",
  "properties": {
    "ts": {"type": ["string", "number"]},
    "timestamp": {"type": ["string", "number"]}
  },
  "anyOf": [
    {"required": ["ts"]},
    {"required": ["timestamp"]}
  ]
}`

const anchorSchema = `{
  "type": "object",
  "properties": {
    "loc": {"enum": ["TL", "TR", "BL", "BR"]}
  },
  "required": ["loc"]
}`

// payloadSchemas recognizes the structured payloads printed on sheets
type payloadSchemas struct {
	identity  *jsonschema.Schema
	timestamp *jsonschema.Schema
	anchor    *jsonschema.Schema
}

func compileSchema(name, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

func newPayloadSchemas() (*payloadSchemas, error) {
	identity, err := compileSchema("identity.json", identitySchema)
	if err != nil {
		return nil, err
	}
	timestamp, err := compileSchema("timestamp.json", timestampSchema)
	if err != nil {
		return nil, err
	}
	anchor, err := compileSchema("anchor.json", anchorSchema)
	if err != nil {
		return nil, err
	}
	return &payloadSchemas{identity: identity, timestamp: timestamp, anchor: anchor}, nil
}

// classify returns the payload kind and, for JSON payloads, the decoded object.
// Identity wins over timestamp, which wins over anchor.
func (s *payloadSchemas) classify(text string) (models.PayloadKind, map[string]any) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return models.PayloadRaw, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return models.PayloadRaw, nil
	}
	switch {
	case s.identity.Validate(v) == nil:
		return models.PayloadIdentity, obj
	case s.timestamp.Validate(v) == nil:
		return models.PayloadTimestamp, obj
	case s.anchor.Validate(v) == nil:
		return models.PayloadAnchor, obj
	default:
		return models.PayloadRaw, obj
	}
}

// identityFrom maps known keys onto Identity; the rest lands in Extra
func identityFrom(obj map[string]any) *models.Identity {
	id := &models.Identity{}
	for k, v := range obj {
		s := scalar(v)
		switch k {
		case "examId":
			id.ExamID = s
		case "setId":
			id.SetID = s
		case "studentId":
			id.StudentID = s
		case "rollNumber":
			id.RollNumber = s
		case "registrationNo":
			id.RegistrationNo = s
		case "subjectCode":
			id.SubjectCode = s
		default:
			if id.Extra == nil {
				id.Extra = make(map[string]string)
			}
			id.Extra[k] = s
		}
	}
	return id
}

// timestampFrom accepts RFC 3339 strings or Unix seconds
func timestampFrom(obj map[string]any) (time.Time, bool) {
	raw, ok := obj["ts"]
	if !ok {
		raw = obj["timestamp"]
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return fmt.Sprintf("%.0f", t)
		}
		return fmt.Sprint(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
