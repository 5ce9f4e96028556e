package grid

import (
	"sort"
)

// cluster is a run of candidates whose positions chain within a radius
type cluster struct {
	center  float64
	members []int
}

// chainClusters groups the indexed positions so that consecutive sorted
// values at most radius apart share a cluster. Clusters come back ordered
// by centre.
func chainClusters(idx []int, pos func(int) float64, radius float64) []cluster {
	if len(idx) == 0 {
		return nil
	}
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(a, b int) bool { return pos(sorted[a]) < pos(sorted[b]) })

	var out []cluster
	cur := cluster{members: []int{sorted[0]}}
	prev := pos(sorted[0])
	for _, i := range sorted[1:] {
		p := pos(i)
		if p-prev > radius {
			out = append(out, cur)
			cur = cluster{}
		}
		cur.members = append(cur.members, i)
		prev = p
	}
	out = append(out, cur)

	for k := range out {
		sum := 0.0
		for _, i := range out[k].members {
			sum += pos(i)
		}
		out[k].center = sum / float64(len(out[k].members))
	}
	return out
}

// keepLarge drops clusters with fewer than minMembers members
func keepLarge(clusters []cluster, minMembers int) []cluster {
	kept := clusters[:0:0]
	for _, c := range clusters {
		if len(c.members) >= minMembers {
			kept = append(kept, c)
		}
	}
	return kept
}
