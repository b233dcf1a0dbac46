package pose

import (
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// TagAngles converts a tag's corners to bearings and estimates its distance
// from the lower-error pose hypothesis.
func TagAngles(cam Camera, obs vision.ImageObservation, size float64) (vision.TagAngleObservation, bool) {
	sol, ok := SolveTag(cam, obs, size)
	if !ok {
		return vision.TagAngleObservation{}, false
	}
	out := vision.TagAngleObservation{TagID: obs.TagID, Distance: sol.Best().Norm()}
	for i, c := range obs.Corners {
		out.Corners[i] = cam.Bearing(c)
	}
	return out, true
}

// Estimate runs every fiducial solve for one frame: the fused camera pose,
// the per-tag angles and the standalone demo tag. Tag angles keep the
// order of tags.
func Estimate(cam Camera, tags []vision.ImageObservation, layout *config.TagLayout, size float64) (camera *vision.CameraPoseObservation, angles []vision.TagAngleObservation, demo *vision.FiducialPoseObservation) {
	if c, ok := SolveCamera(cam, tags, layout, size); ok {
		camera = &c
	}
	for _, t := range tags {
		if t.TagID == vision.DemoTagID {
			if d, ok := SolveTag(cam, t, size); ok {
				demo = &d
			}
			continue
		}
		if a, ok := TagAngles(cam, t, size); ok {
			angles = append(angles, a)
		}
	}
	return camera, angles, demo
}
