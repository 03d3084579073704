package rig_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/testdata"
)

var faceAndArms = rig.Requirements{
	Bones:  []rig.BoneID{rig.Head, rig.LeftArm, rig.RightArm},
	Morphs: []rig.MorphID{rig.Blinking, rig.VowelA},
}

func TestNameTable(t *testing.T) {
	names, err := rig.DefaultNames()
	require.NoError(t, err)

	tests := []struct {
		name string
		want rig.BoneID
	}{
		{name: "センター", want: rig.Center},
		{name: "上半身", want: rig.UpperBody},
		{name: "頭", want: rig.Head},
		{name: "左腕", want: rig.LeftArm},
		{name: "右ひじ", want: rig.RightElbow},
		{name: "Left shoulder", want: rig.LeftShoulder},
		{name: "upper body", want: rig.UpperBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := names.Bone(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	m, ok := names.Morph("まばたき")
	require.True(t, ok)
	assert.Equal(t, rig.Blinking, m)

	m, ok = names.Morph("にやり")
	require.True(t, ok)
	assert.Equal(t, rig.Grin, m)

	_, ok = names.Bone("左髪１")
	assert.False(t, ok)
	assert.Equal(t, "Left hair 1", names.English("左髪１"))
	assert.Equal(t, "unknown", names.English("unknown"))
}

func TestLoad(t *testing.T) {
	names, err := rig.DefaultNames()
	require.NoError(t, err)

	t.Run("japanese rig", func(t *testing.T) {
		desc, err := testdata.LoadRig("mmd_full.yaml")
		require.NoError(t, err)

		m, err := rig.Load(desc, names, faceAndArms)
		require.NoError(t, err)

		assert.Equal(t, "Hatsune Miku (MMD)", m.Name())
		require.NotNil(t, m.Bone(rig.Head))
		assert.Equal(t, "頭", m.Bone(rig.Head).Name)
		assert.Contains(t, m.Unmapped(), "左足ＩＫ")
		assert.Contains(t, m.Unmapped(), "お")
	})

	t.Run("english rig", func(t *testing.T) {
		desc, err := testdata.LoadRig("english.yaml")
		require.NoError(t, err)

		m, err := rig.Load(desc, names, faceAndArms)
		require.NoError(t, err)
		assert.Len(t, m.Bones(), int(rig.NumBones))
		assert.Len(t, m.Morphs(), int(rig.NumMorphs))
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "char.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: Box\nbones: [頭]\nmorphs: [まばたき]\n"), 0o644))

		desc, err := rig.ReadDescription(path)
		require.NoError(t, err)
		assert.Equal(t, "Box", desc.Name)

		_, err = rig.ReadDescription(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("missing names fail fast", func(t *testing.T) {
		desc, err := testdata.LoadRig("face_only.yaml")
		require.NoError(t, err)

		req := faceAndArms.Merge(rig.Requirements{Morphs: []rig.MorphID{rig.Grin}})
		_, err = rig.Load(desc, names, req)

		require.Error(t, err)
		assert.ErrorIs(t, err, rig.ErrMissingBone)
		assert.ErrorIs(t, err, rig.ErrMissingMorph)
		assert.Contains(t, err.Error(), "Left arm")
		assert.Contains(t, err.Error(), "Right arm")
		assert.Contains(t, err.Error(), "Grin")
	})
}

func TestModel(t *testing.T) {
	t.Run("rest pose", func(t *testing.T) {
		m := rig.FullModel("test")

		assert.Equal(t, -0.5, m.Bone(rig.LeftArm).Rotation.Z)
		assert.Equal(t, 0.5, m.Bone(rig.RightArm).Rotation.Z)
		assert.Equal(t, geom.Euler{}, m.Bone(rig.Head).Rotation)

		m.Bone(rig.LeftArm).Rotation = geom.Euler{X: 1}
		m.SetMorph(rig.VowelA, 0.7)
		m.Reset()

		assert.Equal(t, -0.5, m.Bone(rig.LeftArm).Rotation.Z)
		assert.Equal(t, 0.0, m.Morph(rig.VowelA))
	})

	t.Run("morph weights are clamped and NaN is ignored", func(t *testing.T) {
		m := rig.FullModel("test")

		m.SetMorph(rig.Grin, 1.7)
		assert.Equal(t, 1.0, m.Morph(rig.Grin))

		m.SetMorph(rig.Grin, -0.2)
		assert.Equal(t, 0.0, m.Morph(rig.Grin))

		m.SetMorph(rig.Grin, 0.4)
		m.SetMorph(rig.Grin, math.NaN())
		assert.Equal(t, 0.4, m.Morph(rig.Grin))

		m.SetMorph(rig.Grin, math.Inf(1))
		assert.Equal(t, 1.0, m.Morph(rig.Grin))
	})

	t.Run("absent bones and morphs", func(t *testing.T) {
		m := rig.NewModel("partial", []rig.BoneID{rig.Head}, []rig.MorphID{rig.Blinking})

		assert.Nil(t, m.Bone(rig.LeftArm))
		assert.Nil(t, m.Bone(rig.BoneID(99)))

		m.SetMorph(rig.VowelA, 1)
		assert.Equal(t, 0.0, m.Morph(rig.VowelA))

		err := rig.Validate(m, faceAndArms)
		assert.ErrorIs(t, err, rig.ErrMissingBone)
	})

	t.Run("quaternion view", func(t *testing.T) {
		b := &rig.Bone{Rotation: geom.Euler{X: 0.1, Y: 0.2, Z: 0.3}}
		q := b.Quat()

		b.SetQuat(q)
		assert.InDelta(t, 0.1, b.Rotation.X, 1e-9)
		assert.InDelta(t, 0.2, b.Rotation.Y, 1e-9)
		assert.InDelta(t, 0.3, b.Rotation.Z, 1e-9)

		b.SetQuat(mgl64.QuatIdent())
		assert.InDelta(t, 0.0, b.Rotation.Z, 1e-12)
	})

	t.Run("quaternion survives repeated slerps", func(t *testing.T) {
		// Past 90 degrees of pitch the Euler view wraps, so a round trip
		// through it would land on a different but equivalent triple.
		target := mgl64.QuatRotate(2.5, mgl64.Vec3{1, 1, 0}.Normalize())
		b := &rig.Bone{}
		for range 30 {
			b.SetQuat(geom.Slerp(b.Quat(), target, 0.3))
		}
		want := b.Quat()

		b.SetQuat(want)
		assert.Equal(t, want, b.Quat())
		assert.InDelta(t, 1.0, math.Abs(want.Dot(target)), 1e-3)
	})

	t.Run("direct rotation write wins over stored quaternion", func(t *testing.T) {
		b := &rig.Bone{}
		b.SetQuat(mgl64.QuatRotate(0.4, mgl64.Vec3{0, 0, 1}))

		b.Rotation = geom.Euler{X: 0.2}
		assert.True(t, b.Quat().ApproxEqual(geom.Euler{X: 0.2}.Quat()))
	})

	t.Run("reset drops stored quaternion", func(t *testing.T) {
		m := rig.FullModel("test")
		m.Bone(rig.Head).SetQuat(mgl64.QuatRotate(0.4, mgl64.Vec3{0, 1, 0}))

		m.Reset()
		assert.Equal(t, geom.Euler{}, m.Bone(rig.Head).Rotation)
		assert.True(t, m.Bone(rig.Head).Quat().ApproxEqual(mgl64.QuatIdent()))
		assert.Equal(t, "Head", m.Bone(rig.Head).Name)
	})
}

func TestSnapshot(t *testing.T) {
	src := rig.FullModel("src")
	src.Bone(rig.Head).Rotation = geom.Euler{X: 0.1, Y: -0.2, Z: 0.3}
	src.SetMorph(rig.VowelI, 0.6)

	snap := rig.Capture(src, 42)
	assert.Equal(t, int64(42), snap.Timestamp)
	assert.Equal(t, 0.6, snap.Morphs["I"])
	assert.Equal(t, geom.Euler{X: 0.1, Y: -0.2, Z: 0.3}, snap.Bones["Head"])

	// The snapshot is a copy.
	src.Bone(rig.Head).Rotation.X = 9
	assert.Equal(t, 0.1, snap.Bones["Head"].X)

	dst := rig.NewModel("dst", []rig.BoneID{rig.Head}, []rig.MorphID{rig.VowelI})
	snap.Apply(dst)
	assert.Equal(t, 0.1, dst.Bone(rig.Head).Rotation.X)
	assert.Equal(t, 0.6, dst.Morph(rig.VowelI))
}
