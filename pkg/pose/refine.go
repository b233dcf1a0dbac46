package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const (
	refineIterations = 100
	refineStep       = 1e-7
)

// params packs a pose as (rotation vector, translation).
func params(p geometry.Pose3d) [6]float64 {
	rv := p.Rotation.Vector()
	return [6]float64{rv.X, rv.Y, rv.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

func fromParams(x [6]float64) geometry.Pose3d {
	return geometry.NewPose(
		r3.Vec{X: x[3], Y: x[4], Z: x[5]},
		geometry.RotationFromVector(r3.Vec{X: x[0], Y: x[1], Z: x[2]}),
	)
}

func residuals(cam Camera, x [6]float64, model []r3.Vec, image []vision.Point, out []float64) float64 {
	p := fromParams(x)
	var cost float64
	for i, m := range model {
		px := cam.Project(p.Apply(m))
		out[2*i] = px.X - image[i].X
		out[2*i+1] = px.Y - image[i].Y
		cost += out[2*i]*out[2*i] + out[2*i+1]*out[2*i+1]
	}
	return cost
}

// refine minimises the pixel reprojection error of model points under a
// pose with Levenberg-Marquardt, starting from seed.
func refine(cam Camera, seed geometry.Pose3d, model []r3.Vec, image []vision.Point) solution {
	n := 2 * len(model)
	x := params(seed)
	r := make([]float64, n)
	cost := residuals(cam, x, model, image, r)

	jac := mat.NewDense(n, 6, nil)
	rPlus := make([]float64, n)
	rMinus := make([]float64, n)
	lambda := 1e-3

	for iter := 0; iter < refineIterations && cost > 1e-20; iter++ {
		for k := 0; k < 6; k++ {
			xp, xm := x, x
			xp[k] += refineStep
			xm[k] -= refineStep
			residuals(cam, xp, model, image, rPlus)
			residuals(cam, xm, model, image, rMinus)
			for i := 0; i < n; i++ {
				jac.Set(i, k, (rPlus[i]-rMinus[i])/(2*refineStep))
			}
		}
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(n, r))

		improved := false
		for attempt := 0; attempt < 10; attempt++ {
			a := mat.DenseCopyOf(&jtj)
			for k := 0; k < 6; k++ {
				a.Set(k, k, jtj.At(k, k)*(1+lambda)+1e-12)
			}
			var delta mat.VecDense
			if err := delta.SolveVec(a, &g); err != nil {
				lambda *= 10
				continue
			}
			var next [6]float64
			for k := 0; k < 6; k++ {
				next[k] = x[k] - delta.AtVec(k)
			}
			nextR := make([]float64, n)
			nextCost := residuals(cam, next, model, image, nextR)
			if nextCost < cost {
				step := mat.Norm(&delta, 2)
				x, r, cost = next, nextR, nextCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if step < 1e-12 {
					iter = refineIterations
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return solution{pose: fromParams(x), error: math.Sqrt(cost / float64(n))}
}
