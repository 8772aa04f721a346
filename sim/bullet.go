package sim

import (
	"z4-server/quadtree"
)

// DefaultPreset is the preset used when a fire request names none.
const DefaultPreset = "laser"

// BulletPreset describes a kind of bullet.
type BulletPreset struct {
	Damage      int
	Penetration int     // entities hit before the bullet is spent
	Speed       float64 // units/s
	Range       float64
	Lifetime    float64 // seconds
	Cooldown    float64 // seconds before the shooter can fire again
}

var Presets = map[string]BulletPreset{
	"laser": {
		Damage:      20,
		Penetration: 1,
		Speed:       800,
		Range:       1200,
		Lifetime:    2,
		Cooldown:    0.2,
	},
	"rail": {
		Damage:      45,
		Penetration: 3,
		Speed:       1600,
		Range:       2000,
		Lifetime:    1.5,
		Cooldown:    1,
	},
	"flak": {
		Damage:      8,
		Penetration: 1,
		Speed:       500,
		Range:       400,
		Lifetime:    1,
		Cooldown:    0.1,
	},
}

// NewBullet creates a bullet leaving the edge of owner towards dir, which must
// be a unit vector.
func NewBullet(owner *Object, dir quadtree.PointVector, p BulletPreset) *Object {
	pos := owner.Pos.Add(dir.Scale(owner.Size + BulletSpawnAt))
	return &Object{
		ID:          NewID(),
		Kind:        KindBullet,
		Pos:         pos,
		Prev:        pos,
		Origin:      pos,
		Vel:         dir.Scale(p.Speed),
		Team:        owner.Team,
		OwnerID:     owner.ID,
		Damage:      p.Damage,
		Penetration: p.Penetration,
		Range:       p.Range,
		Life:        p.Lifetime,
		alive:       true,
	}
}
