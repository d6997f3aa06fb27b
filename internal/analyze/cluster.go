package analyze

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/bikeway-cli/internal/dataset"
)

const maxKMeansIterations = 100

// ClusterOptions tunes the k-means stage.
type ClusterOptions struct {
	K       int
	MinRows int
	Seed    int64
}

// Cluster groups tracts by standardized bike-lane density, burden
// score, and vehicle-less rate, writing labels into rows in place.
// Labels are re-ranked by descending mean ces_score, so cluster 0 is
// always the highest-burden group. Rows with NaN features keep -1.
// With fewer than MinRows complete rows the stage is skipped and the
// rows are left untouched.
func Cluster(rows []dataset.Row, opts ClusterOptions) bool {
	log := zap.L().With(zap.String("component", "analyze"))

	var idx []int
	var feats [][]float64
	for i, r := range rows {
		f := []float64{r.BikeDensity, r.CESScore, r.NoVehicleRate}
		if hasNaN(f) {
			continue
		}
		idx = append(idx, i)
		feats = append(feats, f)
	}
	if len(feats) < opts.MinRows {
		log.Warn("clustering skipped",
			zap.Int("complete_rows", len(feats)),
			zap.Int("min_rows", opts.MinRows))
		return false
	}

	k := opts.K
	if k > len(feats) {
		k = len(feats)
	}

	standardize(feats)
	labels := kmeans(feats, k, opts.Seed)
	labels = rankByBurden(labels, k, idx, rows)

	for pos, i := range idx {
		rows[i].Cluster = labels[pos]
	}
	log.Info("clustering complete",
		zap.Int("tracts", len(idx)),
		zap.Int("k", k))
	return true
}

// standardize z-scores each feature column in place. A constant column
// keeps its zero deviations rather than dividing by zero.
func standardize(feats [][]float64) {
	if len(feats) == 0 {
		return
	}
	p := len(feats[0])
	col := make([]float64, len(feats))
	for j := 0; j < p; j++ {
		for i := range feats {
			col[i] = feats[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := range feats {
			feats[i][j] = (feats[i][j] - mean) / std
		}
	}
}

// kmeans runs Lloyd's algorithm with k-means++ seeding from a fixed
// source, so runs are reproducible.
func kmeans(feats [][]float64, k int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(feats, k, rng)
	labels := make([]int, len(feats))

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, f := range feats {
			best := nearest(f, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(feats[0]))
		}
		for i, f := range feats {
			counts[labels[i]]++
			floats.Add(sums[labels[i]], f)
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Reseed an empty cluster to a random point.
				copy(centroids[c], feats[rng.Intn(len(feats))])
				continue
			}
			copy(centroids[c], sums[c])
			floats.Scale(1/float64(counts[c]), centroids[c])
		}
	}
	return labels
}

// seedCentroids implements k-means++: each new centroid is drawn with
// probability proportional to squared distance from the nearest chosen
// one.
func seedCentroids(feats [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := append([]float64(nil), feats[rng.Intn(len(feats))]...)
	centroids = append(centroids, first)

	d2 := make([]float64, len(feats))
	for len(centroids) < k {
		var total float64
		for i, f := range feats {
			d := floats.Distance(f, centroids[len(centroids)-1], 2)
			d = d * d
			if len(centroids) == 1 || d < d2[i] {
				d2[i] = d
			}
			total += d2[i]
		}
		var pick int
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range d2 {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.Intn(len(feats))
		}
		centroids = append(centroids, append([]float64(nil), feats[pick]...))
	}
	return centroids
}

func nearest(f []float64, centroids [][]float64) int {
	best := 0
	bestD := math.Inf(1)
	for c, cent := range centroids {
		if d := floats.Distance(f, cent, 2); d < bestD {
			best = c
			bestD = d
		}
	}
	return best
}

// rankByBurden remaps raw k-means labels so they are ordered by
// descending mean ces_score.
func rankByBurden(labels []int, k int, idx []int, rows []dataset.Row) []int {
	sums := make([]float64, k)
	counts := make([]float64, k)
	for pos, label := range labels {
		sums[label] += rows[idx[pos]].CESScore
		counts[label]++
	}

	order := make([]int, k)
	for c := range order {
		order[c] = c
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := math.Inf(-1), math.Inf(-1)
		if counts[order[a]] > 0 {
			ma = sums[order[a]] / counts[order[a]]
		}
		if counts[order[b]] > 0 {
			mb = sums[order[b]] / counts[order[b]]
		}
		return ma > mb
	})

	remap := make([]int, k)
	for rank, label := range order {
		remap[label] = rank
	}
	out := make([]int, len(labels))
	for i, label := range labels {
		out[i] = remap[label]
	}
	return out
}
