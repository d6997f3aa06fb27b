// Package analyze fits the regression and clustering models on the
// master table. Both stages skip themselves with a diagnostic when too
// few complete rows survive NaN filtering.
package analyze

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/bikeway-cli/internal/dataset"
)

// ErrInsufficientData marks a stage skipped for lack of complete rows.
var ErrInsufficientData = eris.New("analyze: insufficient data")

// Regression variable names, in design-matrix order.
const (
	responseName = "ces_score"
)

var predictorNames = []string{"bike_density", "median_income", "no_vehicle_rate"}

// OLSResult holds the fitted regression. Coefficient slices are ordered
// intercept first, then predictors.
type OLSResult struct {
	N          int
	Response   string
	Predictors []string
	Coef       []float64
	StdErr     []float64 // HC1 robust
	TValues    []float64
	PValues    []float64
	R2         float64
	AdjR2      float64
	VIF        []float64 // per predictor, intercept excluded
}

// Regress fits ces_score against bike-lane density, median income, and
// the vehicle-less rate with an intercept and HC1 robust standard
// errors. Rows with any NaN among the four variables are dropped;
// fewer than minRows survivors returns ErrInsufficientData.
func Regress(rows []dataset.Row, minRows int) (*OLSResult, error) {
	log := zap.L().With(zap.String("component", "analyze"))

	var y []float64
	var xs [][]float64
	for _, r := range rows {
		vals := []float64{r.CESScore, r.BikeDensity, r.MedianIncome, r.NoVehicleRate}
		if hasNaN(vals) {
			continue
		}
		y = append(y, vals[0])
		xs = append(xs, vals[1:])
	}
	if len(y) < minRows {
		log.Warn("regression skipped",
			zap.Int("complete_rows", len(y)),
			zap.Int("min_rows", minRows))
		return nil, eris.Wrapf(ErrInsufficientData, "regression needs %d rows, have %d", minRows, len(y))
	}

	res, err := fitOLS(y, xs)
	if err != nil {
		return nil, err
	}
	res.Response = responseName
	res.Predictors = predictorNames
	res.VIF = vif(xs)

	log.Info("regression fitted",
		zap.Int("n", res.N),
		zap.Float64("r2", res.R2))
	return res, nil
}

// fitOLS solves the least-squares problem and computes HC1 robust
// covariance: (X'X)^-1 X' diag(e^2) X (X'X)^-1 scaled by n/(n-k).
func fitOLS(y []float64, xs [][]float64) (*OLSResult, error) {
	n := len(y)
	p := len(xs[0])
	k := p + 1

	X := mat.NewDense(n, k, nil)
	for i, row := range xs {
		X.Set(i, 0, 1)
		for j, v := range row {
			X.Set(i, j+1, v)
		}
	}
	yVec := mat.NewVecDense(n, y)

	var qr mat.QR
	qr.Factorize(X)
	var betaM mat.Dense
	if err := qr.SolveTo(&betaM, false, yVec); err != nil {
		return nil, eris.Wrap(err, "analyze: solve least squares")
	}
	beta := make([]float64, k)
	for j := range beta {
		beta[j] = betaM.At(j, 0)
	}

	// Residuals and fit statistics.
	var fitted mat.VecDense
	fitted.MulVec(X, betaM.ColView(0))
	resid := make([]float64, n)
	var sse, sst, meanY float64
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)
	for i := range y {
		resid[i] = y[i] - fitted.AtVec(i)
		sse += resid[i] * resid[i]
		sst += (y[i] - meanY) * (y[i] - meanY)
	}
	r2 := math.NaN()
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	adjR2 := 1 - (1-r2)*float64(n-1)/float64(n-k)

	// Robust covariance sandwich.
	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var bread mat.Dense
	if err := bread.Inverse(&xtx); err != nil {
		return nil, eris.Wrap(err, "analyze: design matrix is singular")
	}
	meat := mat.NewDense(k, k, nil)
	xi := make([]float64, k)
	for i := 0; i < n; i++ {
		mat.Row(xi, i, X)
		w := resid[i] * resid[i]
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				meat.Set(a, b, meat.At(a, b)+w*xi[a]*xi[b])
			}
		}
	}
	var cov mat.Dense
	cov.Product(&bread, meat, &bread)
	cov.Scale(float64(n)/float64(n-k), &cov)

	se := make([]float64, k)
	tvals := make([]float64, k)
	pvals := make([]float64, k)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - k)}
	for j := 0; j < k; j++ {
		se[j] = math.Sqrt(cov.At(j, j))
		tvals[j] = beta[j] / se[j]
		pvals[j] = 2 * (1 - tdist.CDF(math.Abs(tvals[j])))
	}

	return &OLSResult{
		N:       n,
		Coef:    beta,
		StdErr:  se,
		TValues: tvals,
		PValues: pvals,
		R2:      r2,
		AdjR2:   adjR2,
	}, nil
}

// vif computes the variance inflation factor of each predictor by
// regressing it on the remaining predictors. A perfectly collinear
// predictor reports +Inf.
func vif(xs [][]float64) []float64 {
	p := len(xs[0])
	out := make([]float64, p)
	for j := 0; j < p; j++ {
		yj := make([]float64, len(xs))
		rest := make([][]float64, len(xs))
		for i, row := range xs {
			yj[i] = row[j]
			others := make([]float64, 0, p-1)
			for jj, v := range row {
				if jj != j {
					others = append(others, v)
				}
			}
			rest[i] = others
		}
		fit, err := fitOLS(yj, rest)
		if err != nil || math.IsNaN(fit.R2) {
			out[j] = math.NaN()
			continue
		}
		if fit.R2 >= 1 {
			out[j] = math.Inf(1)
			continue
		}
		out[j] = 1 / (1 - fit.R2)
	}
	return out
}

// Summary renders a plain-text regression report for
// regression_results.txt.
func (r *OLSResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OLS Regression Results\n")
	fmt.Fprintf(&b, "======================\n")
	fmt.Fprintf(&b, "Dep. Variable:    %s\n", r.Response)
	fmt.Fprintf(&b, "Observations:     %d\n", r.N)
	fmt.Fprintf(&b, "Covariance Type:  HC1 (robust)\n")
	fmt.Fprintf(&b, "R-squared:        %.4f\n", r.R2)
	fmt.Fprintf(&b, "Adj. R-squared:   %.4f\n\n", r.AdjR2)

	fmt.Fprintf(&b, "%-18s %12s %12s %9s %9s\n", "", "coef", "std err", "t", "P>|t|")
	names := append([]string{"const"}, r.Predictors...)
	for j, name := range names {
		fmt.Fprintf(&b, "%-18s %12.6g %12.6g %9.3f %9.3f\n",
			name, r.Coef[j], r.StdErr[j], r.TValues[j], r.PValues[j])
	}

	fmt.Fprintf(&b, "\nVariance Inflation Factors\n")
	for j, name := range r.Predictors {
		fmt.Fprintf(&b, "%-18s %8.2f\n", name, r.VIF[j])
	}
	return b.String()
}

func hasNaN(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
