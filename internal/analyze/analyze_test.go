package analyze

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bikeway-cli/internal/dataset"
)

// syntheticRows builds n rows where ces_score follows an exact linear
// model of the three predictors.
func syntheticRows(n int) []dataset.Row {
	rows := make([]dataset.Row, n)
	for i := range rows {
		density := 0.1 * float64(i)
		income := 40000 + 1000*float64(i%7)
		rate := 0.01 * float64((i*i)%13)
		rows[i] = dataset.Row{
			GEOID:         "t",
			BikeDensity:   density,
			MedianIncome:  income,
			NoVehicleRate: rate,
			CESScore:      2 + 3*density - 0.0001*income + 15*rate,
			Cluster:       -1,
		}
	}
	return rows
}

func TestRegressRecoversCoefficients(t *testing.T) {
	res, err := Regress(syntheticRows(40), 20)
	require.NoError(t, err)

	assert.Equal(t, 40, res.N)
	assert.InDelta(t, 2.0, res.Coef[0], 1e-6, "intercept")
	assert.InDelta(t, 3.0, res.Coef[1], 1e-6, "bike density")
	assert.InDelta(t, -0.0001, res.Coef[2], 1e-9, "income")
	assert.InDelta(t, 15.0, res.Coef[3], 1e-6, "vehicle rate")
	assert.InDelta(t, 1.0, res.R2, 1e-9, "noiseless fit")

	require.Len(t, res.VIF, 3)
	for _, v := range res.VIF {
		assert.Less(t, v, 5.0, "synthetic predictors are nearly independent")
		assert.Greater(t, v, 0.99)
	}
}

func TestRegressDropsIncompleteRows(t *testing.T) {
	rows := syntheticRows(30)
	rows[0].CESScore = math.NaN()
	rows[1].MedianIncome = math.NaN()

	res, err := Regress(rows, 20)
	require.NoError(t, err)
	assert.Equal(t, 28, res.N)
}

func TestRegressInsufficientData(t *testing.T) {
	_, err := Regress(syntheticRows(10), 20)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInsufficientData))
}

func TestVIFFlagsCollinearity(t *testing.T) {
	n := 30
	xs := make([][]float64, n)
	for i := range xs {
		v := float64(i)
		xs[i] = []float64{v, 2 * v, float64((i * 3) % 11)}
	}
	out := vif(xs)
	require.Len(t, out, 3)
	assert.Greater(t, out[0], 10.0, "duplicated predictor inflates")
	assert.Greater(t, out[1], 10.0)
}

func TestSummary(t *testing.T) {
	res, err := Regress(syntheticRows(40), 20)
	require.NoError(t, err)

	s := res.Summary()
	assert.Contains(t, s, "HC1")
	assert.Contains(t, s, "ces_score")
	assert.Contains(t, s, "bike_density")
	assert.Contains(t, s, "median_income")
	assert.Contains(t, s, "no_vehicle_rate")
	assert.Contains(t, s, "Variance Inflation Factors")
}

// twoBlobs builds tightly packed groups far apart in feature space: a
// high-burden, low-density blob and a low-burden, high-density one.
func twoBlobs(n int) []dataset.Row {
	rows := make([]dataset.Row, 0, 2*n)
	for i := 0; i < n; i++ {
		jitter := 0.001 * float64(i)
		rows = append(rows, dataset.Row{
			GEOID: "hi", BikeDensity: 0.01 + jitter, CESScore: 80 + jitter, NoVehicleRate: 0.8, Cluster: -1,
		})
		rows = append(rows, dataset.Row{
			GEOID: "lo", BikeDensity: 5 + jitter, CESScore: 10 + jitter, NoVehicleRate: 0.05, Cluster: -1,
		})
	}
	return rows
}

func TestClusterSeparatesBlobs(t *testing.T) {
	rows := twoBlobs(20)
	ok := Cluster(rows, ClusterOptions{K: 2, MinRows: 20, Seed: 42})
	require.True(t, ok)

	for _, r := range rows {
		require.GreaterOrEqual(t, r.Cluster, 0)
		require.Less(t, r.Cluster, 2)
	}
	// All members of a blob share a label.
	hi := rows[0].Cluster
	lo := rows[1].Cluster
	for i, r := range rows {
		if i%2 == 0 {
			assert.Equal(t, hi, r.Cluster)
		} else {
			assert.Equal(t, lo, r.Cluster)
		}
	}
	assert.NotEqual(t, hi, lo)
	assert.Equal(t, 0, hi, "the high-burden blob must be cluster 0")
}

func TestClusterZeroIsHighestBurden(t *testing.T) {
	rows := make([]dataset.Row, 60)
	for i := range rows {
		rows[i] = dataset.Row{
			BikeDensity:   float64((i * 7) % 13),
			CESScore:      float64((i * 11) % 97),
			NoVehicleRate: 0.01 * float64(i%19),
			Cluster:       -1,
		}
	}
	require.True(t, Cluster(rows, ClusterOptions{K: 5, MinRows: 20, Seed: 42}))

	sums := map[int]float64{}
	counts := map[int]float64{}
	for _, r := range rows {
		require.GreaterOrEqual(t, r.Cluster, 0)
		sums[r.Cluster] += r.CESScore
		counts[r.Cluster]++
	}
	mean0 := sums[0] / counts[0]
	for label := range sums {
		assert.LessOrEqual(t, sums[label]/counts[label], mean0+1e-9,
			"cluster 0 has the highest mean burden")
	}
}

func TestClusterDeterministic(t *testing.T) {
	a := twoBlobs(20)
	b := twoBlobs(20)
	require.True(t, Cluster(a, ClusterOptions{K: 2, MinRows: 20, Seed: 42}))
	require.True(t, Cluster(b, ClusterOptions{K: 2, MinRows: 20, Seed: 42}))
	for i := range a {
		assert.Equal(t, a[i].Cluster, b[i].Cluster)
	}
}

func TestClusterSkipsSmallInput(t *testing.T) {
	rows := twoBlobs(5) // 10 rows
	ok := Cluster(rows, ClusterOptions{K: 2, MinRows: 20, Seed: 42})
	assert.False(t, ok)
	for _, r := range rows {
		assert.Equal(t, -1, r.Cluster, "rows untouched on skip")
	}
}

func TestClusterLeavesIncompleteRowsUnlabeled(t *testing.T) {
	rows := twoBlobs(20)
	rows[3].CESScore = math.NaN()
	require.True(t, Cluster(rows, ClusterOptions{K: 2, MinRows: 20, Seed: 42}))
	assert.Equal(t, -1, rows[3].Cluster)
}
