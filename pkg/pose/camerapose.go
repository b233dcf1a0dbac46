package pose

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Converged hypotheses closer than this are reported as one.
const (
	sameTranslation = 1e-4
	sameRotation    = 1e-4
)

// fieldCorners returns the field-frame corners of a tag in OpenCV axes, in
// the same order as the detector's image corners.
func fieldCorners(tag geometry.Pose3d, size float64) [4]r3.Vec {
	h := size / 2
	offsets := [4]r3.Vec{
		{Y: h, Z: -h},
		{Y: -h, Z: -h},
		{Y: -h, Z: h},
		{Y: h, Z: h},
	}
	var out [4]r3.Vec
	for i, o := range offsets {
		out[i] = geometry.RobotTranslationToOpenCV(tag.Apply(o))
	}
	return out
}

// area is the shoelace area of the corner quad in pixels.
func area(c [4]vision.Point) float64 {
	var s float64
	for i := range c {
		j := (i + 1) % len(c)
		s += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return math.Abs(s) / 2
}

// fieldToCamera turns a camera-to-tag pose into a camera pose on the field.
func fieldToCamera(fieldToTag, cameraToTag geometry.Pose3d) geometry.Pose3d {
	return fieldToTag.TransformBy(cameraToTag.Inverse())
}

// SolveCamera fuses every visible tag known to the layout into the camera
// pose on the field. The demo tag never contributes.
//
// A single tag yields both planar hypotheses. With more tags, both
// hypotheses of the largest tag seed a joint refinement over all corners;
// if the refinements agree the result has one hypothesis, otherwise both
// are kept ordered by error.
func SolveCamera(cam Camera, tags []vision.ImageObservation, layout *config.TagLayout, size float64) (vision.CameraPoseObservation, bool) {
	var (
		ids     []int
		used    []vision.ImageObservation
		poses   []geometry.Pose3d
		model   []r3.Vec
		image   []vision.Point
		largest = -1
	)
	for _, t := range tags {
		if t.TagID == vision.DemoTagID {
			continue
		}
		fieldToTag, ok := layout.Pose(t.TagID)
		if !ok {
			continue
		}
		if largest < 0 || area(t.Corners) > area(used[largest].Corners) {
			largest = len(used)
		}
		ids = append(ids, t.TagID)
		used = append(used, t)
		poses = append(poses, fieldToTag)
		corners := fieldCorners(fieldToTag, size)
		model = append(model, corners[:]...)
		image = append(image, t.Corners[:]...)
	}
	if len(used) == 0 || size <= 0 {
		return vision.CameraPoseObservation{}, false
	}

	single, ok := SolveTag(cam, used[largest], size)
	if !ok {
		return vision.CameraPoseObservation{}, false
	}
	seeds := []geometry.Pose3d{
		fieldToCamera(poses[largest], single.Pose0),
		fieldToCamera(poses[largest], single.Pose1),
	}

	var sols []solution
	for _, s := range seeds {
		// Camera-from-field in OpenCV axes is what the corners constrain.
		cvSeed := geometry.RobotToOpenCV(s.Inverse())
		var sol solution
		if len(used) == 1 {
			sol = solution{pose: cvSeed, error: reprojectionError(cam, cvSeed, model, image)}
		} else {
			sol = refine(cam, cvSeed, model, image)
		}
		sol.pose = geometry.OpenCVPoseToRobot(sol.pose).Inverse()
		sols = append(sols, sol)
	}
	sort.SliceStable(sols, func(i, j int) bool { return sols[i].error < sols[j].error })

	obs := vision.CameraPoseObservation{
		TagIDs: ids,
		HypothesisPair: vision.HypothesisPair{
			Pose0:  sols[0].pose,
			Error0: sols[0].error,
		},
	}
	if len(used) == 1 || !samePose(sols[0].pose, sols[1].pose) {
		obs.Pose1 = sols[1].pose
		obs.Error1 = sols[1].error
		obs.Ambiguous = true
	}
	return obs, true
}

func samePose(a, b geometry.Pose3d) bool {
	return r3.Norm(r3.Sub(a.Translation, b.Translation)) < sameTranslation &&
		a.Rotation.AngleTo(b.Rotation) < sameRotation
}
