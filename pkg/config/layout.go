package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/geometry"
)

// TagLayout maps tag ids to their poses on the field, in the robot convention.
type TagLayout struct {
	tags map[int]geometry.Pose3d
}

// NewTagLayout builds a layout from explicit poses.
func NewTagLayout(tags map[int]geometry.Pose3d) *TagLayout {
	l := &TagLayout{tags: make(map[int]geometry.Pose3d, len(tags))}
	for id, p := range tags {
		l.tags[id] = p
	}
	return l
}

// Pose returns the field pose of a tag.
func (l *TagLayout) Pose(id int) (geometry.Pose3d, bool) {
	if l == nil {
		return geometry.Pose3d{}, false
	}
	p, ok := l.tags[id]
	return p, ok
}

// IDs returns the tag ids in ascending order.
func (l *TagLayout) IDs() []int {
	if l == nil {
		return nil
	}
	ids := make([]int, 0, len(l.tags))
	for id := range l.tags {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

type layoutDocument struct {
	Tags []struct {
		ID   int `json:"ID"`
		Pose struct {
			Translation struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
				Z float64 `json:"z"`
			} `json:"translation"`
			Rotation struct {
				Quaternion struct {
					W float64 `json:"W"`
					X float64 `json:"X"`
					Y float64 `json:"Y"`
					Z float64 `json:"Z"`
				} `json:"quaternion"`
			} `json:"rotation"`
		} `json:"pose"`
	} `json:"tags"`
}

// ParseTagLayout decodes a field layout document.
func ParseTagLayout(data []byte) (*TagLayout, error) {
	var doc layoutDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tag layout: %w", err)
	}
	l := &TagLayout{tags: make(map[int]geometry.Pose3d, len(doc.Tags))}
	for _, t := range doc.Tags {
		tr, q := t.Pose.Translation, t.Pose.Rotation.Quaternion
		l.tags[t.ID] = geometry.NewPose(
			r3.Vec{X: tr.X, Y: tr.Y, Z: tr.Z},
			geometry.RotationFromQuaternion(q.W, q.X, q.Y, q.Z),
		)
	}
	return l, nil
}
