package vq

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Reinitializer computes a fresh set of centroids from encoder outputs.
//
// latents is N×D with one latent vector per row. The result must be D×K with
// one centroid per column, ready for Reinitialize.
type Reinitializer interface {
	Centroids(latents *mat.Dense, k int) (*mat.Dense, error)
}

// Reinitialize computes centroids with strategy and installs them into cb.
// A strategy returning the wrong shape is rejected before anything is written.
func Reinitialize(cb interface{ Reinitialize(mat.Matrix) error }, strategy Reinitializer, latents *mat.Dense, k int) error {
	centroids, err := strategy.Centroids(latents, k)
	if err != nil {
		return errors.Wrap(err, "computing centroids")
	}
	return cb.Reinitialize(centroids)
}

func checkLatents(latents *mat.Dense, k int) (int, int, error) {
	if k <= 0 {
		return 0, 0, errors.Wrapf(ErrInvalidConfig, "k must be positive, got %d", k)
	}
	if latents == nil || latents.IsEmpty() {
		return 0, 0, errors.Wrap(ErrShapeMismatch, "no latent vectors")
	}
	n, d := latents.Dims()
	return n, d, nil
}

// KMeansPlusPlus seeds centroids with the k-means++ rule: the first centroid
// is a uniformly chosen latent, each next one is drawn with probability
// proportional to its squared distance from the nearest centroid so far.
type KMeansPlusPlus struct {
	Src rand.Source
}

// Centroids implements Reinitializer.
func (s KMeansPlusPlus) Centroids(latents *mat.Dense, k int) (*mat.Dense, error) {
	n, d, err := checkLatents(latents, k)
	if err != nil {
		return nil, err
	}
	src := s.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	rng := rand.New(src)

	out := mat.NewDense(d, k, nil)
	out.SetCol(0, latents.RawRowView(rng.IntN(n)))

	// Squared distance from each latent to its nearest chosen centroid
	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}
	centroid := make([]float64, d)

	for c := 1; c < k; c++ {
		mat.Col(centroid, c-1, out)
		for i := 0; i < n; i++ {
			dist := floats.Distance(latents.RawRowView(i), centroid, 2)
			if dist*dist < minDist[i] {
				minDist[i] = dist * dist
			}
		}

		// All latents already coincide with a centroid
		if floats.Sum(minDist) == 0 {
			out.SetCol(c, latents.RawRowView(rng.IntN(n)))
			continue
		}

		w := sampleuv.NewWeighted(append([]float64(nil), minDist...), src)
		idx, ok := w.Take()
		if !ok {
			return nil, errors.Wrap(ErrNonFinite, "k-means++ sampling weights")
		}
		out.SetCol(c, latents.RawRowView(idx))
	}
	return out, nil
}

// PCASplit builds centroids by divisive clustering: starting from a single
// cluster, the cluster with the largest sum of squared errors is split in two
// along its first principal component, at the mean projection, until there are
// k clusters. Centroids are the cluster means. When the data cannot be split
// into k non-empty clusters the largest clusters' centroids are repeated.
type PCASplit struct{}

type pcaCluster struct {
	members []int
	mean    []float64
	sse     float64
}

// Centroids implements Reinitializer.
func (PCASplit) Centroids(latents *mat.Dense, k int) (*mat.Dense, error) {
	n, d, err := checkLatents(latents, k)
	if err != nil {
		return nil, err
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	clusters := []*pcaCluster{newPCACluster(latents, all)}

	for len(clusters) < k {
		// Largest-SSE cluster that still has spread
		target := -1
		for i, c := range clusters {
			if len(c.members) >= 2 && c.sse > 0 && (target < 0 || c.sse > clusters[target].sse) {
				target = i
			}
		}
		if target < 0 {
			break
		}

		left, right, ok := splitPCA(latents, clusters[target])
		if !ok {
			// Cannot separate along the principal axis; never pick it again.
			clusters[target].sse = 0
			continue
		}
		clusters[target] = left
		clusters = append(clusters, right)
	}

	// Pad by cycling through the clusters, largest first.
	order := make([]*pcaCluster, len(clusters))
	copy(order, clusters)
	sort.SliceStable(order, func(i, j int) bool {
		return len(order[i].members) > len(order[j].members)
	})

	out := mat.NewDense(d, k, nil)
	for c := 0; c < k; c++ {
		if c < len(clusters) {
			out.SetCol(c, clusters[c].mean)
			continue
		}
		out.SetCol(c, order[(c-len(clusters))%len(order)].mean)
	}
	return out, nil
}

func newPCACluster(latents *mat.Dense, members []int) *pcaCluster {
	_, d := latents.Dims()
	mean := make([]float64, d)
	for _, i := range members {
		floats.Add(mean, latents.RawRowView(i))
	}
	floats.Scale(1/float64(len(members)), mean)

	var sse float64
	for _, i := range members {
		dist := floats.Distance(latents.RawRowView(i), mean, 2)
		sse += dist * dist
	}
	return &pcaCluster{members: members, mean: mean, sse: sse}
}

// splitPCA partitions c by the sign of each member's projection on the first
// principal component of the cluster.
func splitPCA(latents *mat.Dense, c *pcaCluster) (*pcaCluster, *pcaCluster, bool) {
	_, d := latents.Dims()
	data := mat.NewDense(len(c.members), d, nil)
	for r, i := range c.members {
		data.SetRow(r, latents.RawRowView(i))
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return nil, nil, false
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	axis := mat.Col(nil, 0, &vecs)

	var left, right []int
	centered := make([]float64, d)
	for _, i := range c.members {
		floats.SubTo(centered, latents.RawRowView(i), c.mean)
		if floats.Dot(centered, axis) <= 0 {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return nil, nil, false
	}
	return newPCACluster(latents, left), newPCACluster(latents, right), true
}

// StrategyByName returns the reinitializer for name. "random" and "" mean no
// reinitialization and return nil.
func StrategyByName(name string, src rand.Source) (Reinitializer, error) {
	switch name {
	case "", "random":
		return nil, nil
	case "kmpp":
		return KMeansPlusPlus{Src: src}, nil
	case "pca":
		return PCASplit{}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown reinit strategy %q", name)
	}
}
