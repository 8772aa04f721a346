// Package sim runs the game worlds. Every world stores its objects in a loose
// quadtree and advances them at a fixed tick rate: movement, bullet hits and
// item pickups are all range queries on that tree.
package sim

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"

	"z4-server/protocol"
	"z4-server/quadtree"
)

const (
	DefaultTickRate      = 60 // ticks per second
	DefaultBroadcastRate = 30 // snapshots per second
	DefaultWorldSize     = 3000.0
	DefaultSplit         = 8

	MaxSpeed = 400.0 // units/s

	maxObjectsPerGame = 2000
	maxPlayersPerGame = 20

	// A tick never advances the world by more than this many nominal ticks.
	maxStepTicks = 5
)

// Broadcaster receives the messages of the player it is attached to.
type Broadcaster interface {
	SendJSON(msg any)
	SendBinary(data []byte)
}

// Config describes a game world.
type Config struct {
	Width          float64
	Height         float64
	SplitThreshold int
	MergeThreshold int
	MaxDepth       int
	TickRate       int
	BroadcastRate  int
}

func DefaultConfig() Config {
	return Config{
		Width:          DefaultWorldSize,
		Height:         DefaultWorldSize,
		SplitThreshold: DefaultSplit,
		MergeThreshold: quadtree.AutoMergeThreshold,
		MaxDepth:       quadtree.DefaultMaxDepth,
		TickRate:       DefaultTickRate,
		BroadcastRate:  DefaultBroadcastRate,
	}
}

// DebugInfo describes the index of a game world.
type DebugInfo struct {
	Tick    uint64         `json:"tick"`
	Objects int            `json:"objects"`
	Players int            `json:"players"`
	Tree    quadtree.Stats `json:"tree"`
	Valid   bool           `json:"valid"`
	Error   string         `json:"error,omitempty"`
}

// Game holds the state of one game world.
type Game struct {
	mu             sync.Mutex
	conf           Config
	tree           *quadtree.Tree[*Object]
	objects        map[string]*Object
	pending        []*Object
	respawns       []*Object
	clients        map[string]Broadcaster
	players        int
	maxSize        float64
	tick           uint64
	broadcastEvery uint64
	treeStats      quadtree.Stats
	now            func() time.Time
	last           time.Time
}

// NewGame creates an empty world.
func NewGame(conf Config) (*Game, error) {
	if conf.Width <= 0 || conf.Height <= 0 {
		return nil, errors.New("world size must be positive").
			WithType(ErrTypeInvalidInput).
			WithTag("width", conf.Width).
			WithTag("height", conf.Height)
	}
	if conf.TickRate <= 0 || conf.BroadcastRate <= 0 || conf.BroadcastRate > conf.TickRate {
		return nil, errors.New("broadcast rate must be between 1 and the tick rate").
			WithType(ErrTypeInvalidInput).
			WithTag("tick_rate", conf.TickRate).
			WithTag("broadcast_rate", conf.BroadcastRate)
	}

	bounds := quadtree.NewRect(quadtree.PointVector{}, quadtree.PointVector{X: conf.Width, Y: conf.Height})
	tree, err := quadtree.New[*Object](bounds,
		conf.SplitThreshold,
		conf.MergeThreshold,
		quadtree.WithMaxDepth(conf.MaxDepth),
	)
	if err != nil {
		return nil, err
	}

	return &Game{
		conf:           conf,
		tree:           tree,
		objects:        make(map[string]*Object),
		clients:        make(map[string]Broadcaster),
		broadcastEvery: uint64(conf.TickRate / conf.BroadcastRate),
		treeStats:      tree.Stats(),
		now:            time.Now,
	}, nil
}

// Bounds returns the world rect.
func (g *Game) Bounds() quadtree.Rect {
	return g.tree.Bounds()
}

// Run advances the world at the configured tick rate until ctx is done.
func (g *Game) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(g.conf.TickRate))
	defer ticker.Stop()

	g.mu.Lock()
	g.last = g.now()
	g.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			g.advance()
		}
	}
}

// Close removes every object of the world.
func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, o := range g.objects {
		instrumentObjectRemoved(o.Kind)
	}
	g.objects = make(map[string]*Object)
	g.clients = make(map[string]Broadcaster)
	g.pending = nil
	g.respawns = nil
	g.players = 0
	g.tree.Clear()
}

// Step advances the world by dt seconds.
func (g *Game) Step(dt float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update(dt)
}

// AddPlayer spawns a player entity at a random place. The entity joins the
// world on the next tick.
func (g *Game) AddPlayer(name, team string, client Broadcaster) (*Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.players >= maxPlayersPerGame {
		return nil, errors.New("game is full").
			WithType(ErrTypeFull).
			WithTag("players", g.players)
	}

	e := NewEntity(team, name, EntityMaxHP, EntitySize, randomPoint(g.tree.Bounds(), SpawnMargin))
	e.Player = true
	if err := g.spawn(e); err != nil {
		return nil, err
	}

	if client != nil {
		g.clients[e.ID] = client
	}
	g.players++
	return e, nil
}

// RemovePlayer removes a player entity and detaches its client.
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.objects[id]
	if !ok || !o.Player {
		return
	}
	delete(g.clients, id)
	g.players--
	g.respawns = slices.DeleteFunc(g.respawns, func(r *Object) bool { return r == o })
	g.discard(o)
}

// PlayerCount returns the number of players.
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.players
}

// ObjectCount returns the number of objects, queued ones included.
func (g *Game) ObjectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.objects)
}

// SpawnEntity queues a non-player entity.
func (g *Game) SpawnEntity(team, name string, healthMax int, size float64, pos quadtree.PointVector) (*Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if healthMax <= 0 || size <= 0 {
		return nil, errors.New("entity health and size must be positive").
			WithType(ErrTypeInvalidInput).
			WithTag("health_max", healthMax).
			WithTag("size", size)
	}
	if !g.tree.Bounds().Contains(pos) {
		return nil, errors.New("spawn position is outside of the world").
			WithType(ErrTypeInvalidInput).
			WithTag("position", pos.String())
	}

	e := NewEntity(team, name, healthMax, size, pos)
	if err := g.spawn(e); err != nil {
		return nil, err
	}
	return e, nil
}

// SpawnItem queues a heal orb.
func (g *Game) SpawnItem(pos quadtree.PointVector) (*Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.tree.Bounds().Contains(pos) {
		return nil, errors.New("spawn position is outside of the world").
			WithType(ErrTypeInvalidInput).
			WithTag("position", pos.String())
	}

	it := NewItem(pos)
	if err := g.spawn(it); err != nil {
		return nil, err
	}
	return it, nil
}

// SetVelocity changes the velocity of an entity. The speed is capped to
// MaxSpeed.
func (g *Game) SetVelocity(id string, v quadtree.PointVector) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, err := g.aliveEntity(id)
	if err != nil {
		return err
	}
	if !isFinite(v) {
		return errors.New("velocity must be finite").
			WithType(ErrTypeInvalidInput).
			WithTag("velocity", v.String())
	}

	if speed := v.Length(); speed > MaxSpeed {
		v = v.Scale(MaxSpeed / speed)
	}
	e.Vel = v
	return nil
}

// Fire queues a bullet leaving the entity id towards dir.
func (g *Game) Fire(id string, dir quadtree.PointVector, preset string) (*Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, err := g.aliveEntity(id)
	if err != nil {
		return nil, err
	}

	if preset == "" {
		preset = DefaultPreset
	}
	p, ok := Presets[preset]
	if !ok {
		return nil, errors.New("unknown bullet preset").
			WithType(ErrTypeInvalidInput).
			WithTag("preset", preset)
	}

	length := dir.Length()
	if !isFinite(dir) || length == 0 {
		return nil, errors.New("fire direction must be a non-zero vector").
			WithType(ErrTypeInvalidInput).
			WithTag("direction", dir.String())
	}

	if e.cooldown > 0 {
		return nil, errors.New("entity cannot fire yet").
			WithType(ErrTypeCooldown).
			WithTag("cooldown", e.cooldown)
	}

	b := NewBullet(e, dir.Div(length), p)
	if err := g.spawn(b); err != nil {
		return nil, err
	}
	e.cooldown = p.Cooldown
	return b, nil
}

// Remove takes an object out of the world. Players are removed with
// RemovePlayer.
func (g *Game) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.objects[id]
	if !ok || o.Player {
		return false
	}
	g.discard(o)
	return true
}

// Object returns a copy of the object with the given id.
func (g *Game) Object(id string) (Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.objects[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// State returns a snapshot of the objects stored in the world.
func (g *Game) State() protocol.GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

// Debug describes the world index and checks its invariants.
func (g *Game) Debug() DebugInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	info := DebugInfo{
		Tick:    g.tick,
		Objects: len(g.objects),
		Players: g.players,
		Tree:    g.tree.Stats(),
		Valid:   true,
	}
	if err := g.tree.Validate(); err != nil {
		info.Valid = false
		info.Error = err.Error()
	}
	return info
}

func (g *Game) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	elapsed := now.Sub(g.last)
	g.last = now

	if elapsed < 0 {
		instrumentSkippedTick()
		logs.Error(errors.New("clock went backwards").
			WithTag("tick", g.tick).
			WithTag("elapsed", elapsed.String()))
		return
	}

	dt := elapsed.Seconds()
	if limit := float64(maxStepTicks) / float64(g.conf.TickRate); dt > limit {
		logs.WithTag("tick", g.tick).
			WithTag("elapsed", elapsed.String()).
			Warn("tick overrun")
		dt = limit
	}
	g.update(dt)
}

// update runs one game tick.
func (g *Game) update(dt float64) {
	start := time.Now()
	g.tick++

	g.respawnPlayers(dt)
	g.flushPending()

	bullets, items := g.move(dt)
	g.resolveBullets(bullets)
	g.resolveItems(items)

	if g.tick%g.broadcastEvery == 0 {
		g.broadcastState()
	}

	stats := g.tree.Stats()
	instrumentTreeStats(g.treeStats, stats)
	g.treeStats = stats
	instrumentTick(time.Since(start))
}

func (g *Game) spawn(o *Object) error {
	if len(g.objects) >= maxObjectsPerGame {
		return errors.New("too many objects").
			WithType(ErrTypeFull).
			WithTag("objects", len(g.objects))
	}

	if o.Kind == KindEntity {
		g.maxSize = math.Max(g.maxSize, o.Size)
	}
	g.objects[o.ID] = o
	g.pending = append(g.pending, o)
	instrumentObjectAdded(o.Kind)
	return nil
}

func (g *Game) aliveEntity(id string) (*Object, error) {
	o, ok := g.objects[id]
	if !ok || o.Kind != KindEntity || !o.alive {
		return nil, errors.New("entity not found").
			WithType(ErrTypeNotFound).
			WithTag("id", id)
	}
	return o, nil
}

func (g *Game) respawnPlayers(dt float64) {
	kept := g.respawns[:0]
	for _, p := range g.respawns {
		p.respawnIn -= dt
		if p.respawnIn > 0 {
			kept = append(kept, p)
			continue
		}
		p.respawn(randomPoint(g.tree.Bounds(), SpawnMargin))
		g.pending = append(g.pending, p)
	}
	clear(g.respawns[len(kept):])
	g.respawns = kept
}

func (g *Game) flushPending() {
	pending := g.pending
	g.pending = nil

	for _, o := range pending {
		if o.alive {
			g.insert(o)
		}
	}
}

func (g *Game) insert(o *Object) {
	if err := g.tree.Insert(o.Pos, o); err != nil {
		logs.WithTag("tick", g.tick).
			WithTag("id", o.ID).
			WithTag("kind", o.Kind.String()).
			Debug(err)
		o.alive = false
		g.forget(o)
		return
	}
	o.stored = true
}

// move is the movement pass. It returns the bullets and items still in the
// world.
func (g *Game) move(dt float64) (bullets, items []*Object) {
	bounds := g.tree.Bounds()

	var expired []*Object
	g.query(bounds, func(e *quadtree.Entry[*Object]) {
		o := e.Value
		if !o.step(dt, bounds) {
			e.Remove()
			expired = append(expired, o)
			return
		}

		e.Pos = o.Pos
		switch o.Kind {
		case KindBullet:
			bullets = append(bullets, o)
		case KindItem:
			items = append(items, o)
		}
	})

	for _, o := range expired {
		o.stored = false
		g.forget(o)
	}
	return bullets, items
}

func (g *Game) resolveBullets(bullets []*Object) {
	for _, b := range bullets {
		if !b.alive {
			continue
		}

		for _, victim := range g.bulletHits(b) {
			if b.Penetration <= 0 {
				break
			}
			b.Penetration--
			b.hitIDs = append(b.hitIDs, victim.ID)

			if victim.ApplyDamage(b.Damage) {
				g.handleDeath(victim, b)
			}
		}

		if b.Penetration <= 0 {
			g.discard(b)
		}
	}
}

// bulletHits returns the entities crossed by the path of b during the last
// movement pass, closest first.
func (g *Game) bulletHits(b *Object) []*Object {
	var hits []*Object

	area := segmentBounds(b.Prev, b.Pos, g.maxSize+BulletRadius)
	g.query(area, func(e *quadtree.Entry[*Object]) {
		o := e.Value
		if o.Kind != KindEntity || !o.alive || o.ID == b.OwnerID {
			return
		}
		if b.Team != "" && o.Team == b.Team {
			return
		}
		if slices.Contains(b.hitIDs, o.ID) {
			return
		}
		if segmentCircleIntersect(b.Prev, b.Pos, o.Pos, o.Size+BulletRadius) {
			hits = append(hits, o)
		}
	})

	slices.SortFunc(hits, func(x, y *Object) int {
		return cmp.Compare(x.Pos.Sub(b.Prev).Length(), y.Pos.Sub(b.Prev).Length())
	})
	return hits
}

func (g *Game) handleDeath(victim, bullet *Object) {
	instrumentKill()

	kill := protocol.KillMsg{
		VictimID:   victim.ID,
		VictimName: victim.Name,
	}
	if killer, ok := g.objects[bullet.OwnerID]; ok && killer.Kind == KindEntity {
		killer.Kills++
		kill.KillerID = killer.ID
		kill.KillerName = killer.Name
	}
	g.broadcastJSON(protocol.Envelope{T: protocol.MsgKill, Data: kill})

	if client, ok := g.clients[victim.ID]; ok {
		client.SendJSON(protocol.Envelope{T: protocol.MsgDeath, Data: protocol.DeathMsg{
			KillerID:   kill.KillerID,
			KillerName: kill.KillerName,
		}})
	}

	if victim.stored {
		g.removeFromTree(victim)
	}

	item := NewItem(victim.Pos)
	if len(g.objects) < maxObjectsPerGame {
		g.objects[item.ID] = item
		instrumentObjectAdded(item.Kind)
		g.insert(item)
	}

	if victim.Player {
		victim.respawnIn = RespawnDelay
		g.respawns = append(g.respawns, victim)
		return
	}
	g.forget(victim)
}

func (g *Game) resolveItems(items []*Object) {
	for _, it := range items {
		if !it.alive {
			continue
		}

		var target *Object
		g.query(quadtree.RectAround(it.Pos, ItemRadius+g.maxSize), func(e *quadtree.Entry[*Object]) {
			o := e.Value
			if target != nil || o.Kind != KindEntity || !o.alive || o.Health >= o.HealthMax {
				return
			}
			if CheckCollision(it.Pos, ItemRadius, o.Pos, o.Size) {
				target = o
			}
		})

		if target != nil {
			target.SetHealth(target.Health + it.Heal)
			g.discard(it)
		}
	}
}

// discard takes o out of the world for good.
func (g *Game) discard(o *Object) {
	o.alive = false
	if o.stored {
		g.removeFromTree(o)
	}
	g.forget(o)
}

func (g *Game) removeFromTree(o *Object) {
	g.query(quadtree.RectAround(o.Pos, 0), func(e *quadtree.Entry[*Object]) {
		if e.Value == o {
			e.Remove()
		}
	})
	o.stored = false
}

func (g *Game) forget(o *Object) {
	if _, ok := g.objects[o.ID]; !ok {
		return
	}
	delete(g.objects, o.ID)
	instrumentObjectRemoved(o.Kind)
}

// query runs fn on every object inside area. Objects that fn moves outside of
// the world are forgotten.
func (g *Game) query(area quadtree.Rect, fn func(e *quadtree.Entry[*Object])) {
	res, err := g.tree.QueryEach(area, fn)
	if err == nil {
		return
	}

	logs.WithTag("tick", g.tick).Warn(err)
	for _, d := range res.Dropped {
		d.Value.stored = false
		d.Value.alive = false
		g.forget(d.Value)
	}
}

func (g *Game) snapshot() protocol.GameState {
	s := protocol.GameState{
		Entities: make([]protocol.EntityState, 0, len(g.objects)),
		Bullets:  make([]protocol.BulletState, 0),
		Items:    make([]protocol.ItemState, 0),
		Tick:     g.tick,
	}

	for _, o := range g.objects {
		if !o.alive || !o.stored {
			continue
		}
		switch o.Kind {
		case KindEntity:
			s.Entities = append(s.Entities, o.toEntityState())
		case KindBullet:
			s.Bullets = append(s.Bullets, o.toBulletState())
		case KindItem:
			s.Items = append(s.Items, o.toItemState())
		}
	}
	return s
}

// broadcastState sends the current world state to all clients.
func (g *Game) broadcastState() {
	data, err := protocol.MarshalState(g.snapshot())
	if err != nil {
		logs.Error(errors.New("encoding game state failed").
			WithTag("tick", g.tick).
			Wrap(err))
		return
	}

	for _, c := range g.clients {
		c.SendBinary(data)
	}
}

func (g *Game) broadcastJSON(msg protocol.Envelope) {
	for _, c := range g.clients {
		c.SendJSON(msg)
	}
}

func isFinite(p quadtree.PointVector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
