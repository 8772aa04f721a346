package sim

import (
	"math"

	"z4-server/protocol"
	"z4-server/quadtree"
)

const (
	EntityMaxHP   = 100
	EntitySize    = 20.0
	RespawnDelay  = 3.0 // seconds
	SpawnMargin   = 50.0
	ItemRadius    = 15.0
	ItemHeal      = 20
	ItemTimeout   = 30.0 // seconds
	BulletRadius  = 4.0
	BulletSpawnAt = 10.0 // distance in front of the shooter edge
)

// Kind tells what an Object is.
type Kind int

const (
	KindEntity Kind = iota
	KindBullet
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindBullet:
		return "bullet"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// Object is anything stored in a game world.
type Object struct {
	ID   string
	Kind Kind
	Pos  quadtree.PointVector
	Vel  quadtree.PointVector

	// Entity
	Team      string
	Name      string
	Health    int
	HealthMax int
	Size      float64
	Kills     int
	Player    bool
	cooldown  float64
	respawnIn float64

	// Bullet
	OwnerID     string
	Origin      quadtree.PointVector
	Prev        quadtree.PointVector
	Damage      int
	Penetration int
	Range       float64
	hitIDs      []string

	// Bullet and item
	Life float64

	// Item
	Heal int

	alive  bool
	stored bool
}

// NewEntity creates an entity at full health.
func NewEntity(team, name string, healthMax int, size float64, pos quadtree.PointVector) *Object {
	return &Object{
		ID:        NewID(),
		Kind:      KindEntity,
		Pos:       pos,
		Team:      team,
		Name:      name,
		Health:    healthMax,
		HealthMax: healthMax,
		Size:      size,
		alive:     true,
	}
}

// NewItem creates a heal orb.
func NewItem(pos quadtree.PointVector) *Object {
	return &Object{
		ID:    NewID(),
		Kind:  KindItem,
		Pos:   pos,
		Heal:  ItemHeal,
		Life:  ItemTimeout,
		alive: true,
	}
}

func (o *Object) Alive() bool {
	return o.alive
}

// SetHealth sets the health of an entity, clamped to [0, HealthMax].
func (o *Object) SetHealth(health int) {
	o.Health = max(0, min(health, o.HealthMax))
}

// ApplyDamage removes health from an entity and reports whether it died.
func (o *Object) ApplyDamage(damage int) bool {
	if !o.alive || o.Kind != KindEntity {
		return false
	}
	o.SetHealth(o.Health - damage)
	if o.Health == 0 {
		o.alive = false
		return true
	}
	return false
}

// step advances the object by dt seconds and reports whether it should stay
// in the world. Entities are kept inside bounds.
func (o *Object) step(dt float64, bounds quadtree.Rect) bool {
	if !o.alive {
		return false
	}

	switch o.Kind {
	case KindEntity:
		o.Pos = ClampPoint(o.Pos.Add(o.Vel.Scale(dt)), bounds)
		o.cooldown = math.Max(0, o.cooldown-dt)

	case KindBullet:
		o.Prev = o.Pos
		o.Pos = o.Pos.Add(o.Vel.Scale(dt))
		o.Life -= dt
		if o.Life <= 0 ||
			o.Pos.Sub(o.Origin).Length() > o.Range ||
			!bounds.Contains(o.Pos) {
			o.alive = false
		}

	case KindItem:
		o.Life -= dt
		if o.Life <= 0 {
			o.alive = false
		}
	}
	return o.alive
}

// respawn brings a dead entity back at pos.
func (o *Object) respawn(pos quadtree.PointVector) {
	o.Pos = pos
	o.Vel = quadtree.PointVector{}
	o.Health = o.HealthMax
	o.cooldown = 0
	o.respawnIn = 0
	o.alive = true
}

func (o *Object) toEntityState() protocol.EntityState {
	return protocol.EntityState{
		ID:     o.ID,
		Name:   o.Name,
		Team:   o.Team,
		X:      round1(o.Pos.X),
		Y:      round1(o.Pos.Y),
		VX:     round1(o.Vel.X),
		VY:     round1(o.Vel.Y),
		HP:     o.Health,
		MaxHP:  o.HealthMax,
		Size:   o.Size,
		Kills:  o.Kills,
		Player: o.Player,
	}
}

func (o *Object) toBulletState() protocol.BulletState {
	return protocol.BulletState{
		ID:    o.ID,
		X:     round1(o.Pos.X),
		Y:     round1(o.Pos.Y),
		R:     round1(math.Atan2(o.Vel.Y, o.Vel.X)),
		Owner: o.OwnerID,
	}
}

func (o *Object) toItemState() protocol.ItemState {
	return protocol.ItemState{
		ID: o.ID,
		X:  round1(o.Pos.X),
		Y:  round1(o.Pos.Y),
	}
}
