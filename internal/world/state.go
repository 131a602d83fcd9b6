package world

import (
	"sort"

	"github.com/thecity/server/internal/clock"
	"github.com/thecity/server/internal/tilemap"
)

// cellKey addresses one tile-sized bucket of the occupancy grid.
type cellKey struct{ cx, cy int }

// occupancyGrid is a tile-bucketed spatial hash over resident positions, for
// O(neighborhood) collision and proximity checks instead of full scans.
type occupancyGrid struct {
	cellSize float64
	cells    map[cellKey]map[int64]struct{}
}

func newOccupancyGrid(cellSize float64) *occupancyGrid {
	return &occupancyGrid{cellSize: cellSize, cells: make(map[cellKey]map[int64]struct{})}
}

func (g *occupancyGrid) key(x, y float64) cellKey {
	return cellKey{int(x / g.cellSize), int(y / g.cellSize)}
}

func (g *occupancyGrid) add(id int64, x, y float64) {
	k := g.key(x, y)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[int64]struct{}, 2)
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

func (g *occupancyGrid) remove(id int64, x, y float64) {
	k := g.key(x, y)
	if cell := g.cells[k]; cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

func (g *occupancyGrid) move(id int64, oldX, oldY, newX, newY float64) {
	ok, nk := g.key(oldX, oldY), g.key(newX, newY)
	if ok == nk {
		return
	}
	g.remove(id, oldX, oldY)
	g.add(id, newX, newY)
}

// nearbyInto appends ids within the 3x3 cell neighborhood of (x, y) to buf.
func (g *occupancyGrid) nearbyInto(x, y float64, buf []int64) []int64 {
	buf = buf[:0]
	k := g.key(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for id := range g.cells[cellKey{k.cx + dx, k.cy + dy}] {
				buf = append(buf, id)
			}
		}
	}
	return buf
}

// State owns every mutable entity of the city: residents, bodies, forageable
// nodes, the train queue, shop stock, and the civic table mirrors. Mutated
// only by the tick worker; everything else resolves by id through it.
type State struct {
	Map   *tilemap.Map
	Clock *clock.WorldClock

	byID       map[int64]*Resident
	byPassport map[string]*Resident
	grid       *occupancyGrid

	bodies map[int64]*Body
	forage map[int64]*ForageableNode

	trainQueue []int64

	Stock map[string]int

	Petitions   map[int64]*Petition
	Jobs        map[int64]*Job
	Laws        map[int64]*Law
	votes       map[int64]map[int64]VoteChoice // petition → resident → choice
	petitionSeq int64

	speech []SpeechAct // accumulates until the next perception flush

	// Reusable iteration buffers. Tick worker is single-threaded, so these
	// are safe to share across calls.
	orderBuf  []*Resident
	nearBuf   []int64
	forageBuf []*ForageableNode
}

func NewState(m *tilemap.Map, clk *clock.WorldClock) *State {
	cell := 64.0
	if m != nil && m.TileSize > 0 {
		cell = float64(m.TileSize) * 2
	}
	return &State{
		Map:        m,
		Clock:      clk,
		byID:       make(map[int64]*Resident),
		byPassport: make(map[string]*Resident),
		grid:       newOccupancyGrid(cell),
		bodies:     make(map[int64]*Body),
		forage:     make(map[int64]*ForageableNode),
		Stock:      make(map[string]int),
		Petitions:  make(map[int64]*Petition),
		Jobs:       make(map[int64]*Job),
		Laws:       make(map[int64]*Law),
		votes:      make(map[int64]map[int64]VoteChoice),
	}
}

// --- Residents ---

// AddResident registers a resident. Alive residents join the occupancy grid.
func (s *State) AddResident(r *Resident) {
	s.byID[r.ID] = r
	s.byPassport[r.Passport] = r
	if r.Status == StatusAlive {
		s.grid.add(r.ID, r.X, r.Y)
	}
}

// Resident returns a resident by id, or nil.
func (s *State) Resident(id int64) *Resident { return s.byID[id] }

// ByPassport returns a resident by passport number, or nil.
func (s *State) ByPassport(passport string) *Resident { return s.byPassport[passport] }

// Ordered returns all residents sorted by id. Deterministic iteration order
// for tick phases, so arrival order on the sockets cannot bias resolution.
func (s *State) Ordered() []*Resident {
	s.orderBuf = s.orderBuf[:0]
	for _, r := range s.byID {
		s.orderBuf = append(s.orderBuf, r)
	}
	sort.Slice(s.orderBuf, func(i, j int) bool { return s.orderBuf[i].ID < s.orderBuf[j].ID })
	return s.orderBuf
}

// ResidentCount returns counts of (alive, total) residents.
func (s *State) ResidentCount() (alive, total int) {
	for _, r := range s.byID {
		if r.Status == StatusAlive {
			alive++
		}
	}
	return alive, len(s.byID)
}

// MoveResident updates a resident's position and the occupancy grid.
// All position changes must go through here to keep the grid consistent.
func (s *State) MoveResident(r *Resident, newX, newY float64) {
	s.grid.move(r.ID, r.X, r.Y, newX, newY)
	r.X = newX
	r.Y = newY
}

// Spawn places a queued resident into the world at the given position.
func (s *State) Spawn(r *Resident, x, y float64) {
	r.Status = StatusAlive
	r.X, r.Y = x, y
	r.AnchorX, r.AnchorY = x, y
	r.AnchorTime = s.Clock.Now()
	r.ArrivedAt = s.Clock.Now()
	s.grid.add(r.ID, x, y)
}

// Retire removes a resident from the active sets (death or departure). The
// identity row persists; the entity stays resolvable by id for history.
func (s *State) Retire(r *Resident, status Status) {
	s.grid.remove(r.ID, r.X, r.Y)
	r.Status = status
	r.Speed = SpeedStop
	r.MoveDirX, r.MoveDirY = 0, 0
	r.VelX, r.VelY = 0, 0
	r.Waypoints = nil
	r.Sleeping = false
}

// Overlaps reports whether a hitbox circle at (x, y) would overlap another
// living resident's hitbox. half is the hitbox half-width for both. Excluded
// ids (the mover, a carried suspect) are skipped.
func (s *State) Overlaps(x, y, half float64, exclude ...int64) bool {
	s.nearBuf = s.grid.nearbyInto(x, y, s.nearBuf)
	limit := (half * 2) * (half * 2)
nearby:
	for _, id := range s.nearBuf {
		for _, ex := range exclude {
			if id == ex {
				continue nearby
			}
		}
		o := s.byID[id]
		if o == nil || o.Status != StatusAlive {
			continue
		}
		dx, dy := o.X-x, o.Y-y
		if dx*dx+dy*dy < limit {
			return true
		}
	}
	return false
}

// Near returns living residents within radius pixels of (x, y), excluding
// excludeID. The returned slice is reused across calls.
func (s *State) Near(x, y, radius float64, excludeID int64) []*Resident {
	// The grid neighborhood covers 2 cells (= 4 tiles); larger radii fall
	// back to a full scan.
	var out []*Resident
	r2 := radius * radius
	if radius <= s.grid.cellSize {
		s.nearBuf = s.grid.nearbyInto(x, y, s.nearBuf)
		for _, id := range s.nearBuf {
			if id == excludeID {
				continue
			}
			o := s.byID[id]
			if o == nil || o.Status != StatusAlive {
				continue
			}
			dx, dy := o.X-x, o.Y-y
			if dx*dx+dy*dy <= r2 {
				out = append(out, o)
			}
		}
		return out
	}
	for _, o := range s.Ordered() {
		if o.ID == excludeID || o.Status != StatusAlive {
			continue
		}
		dx, dy := o.X-x, o.Y-y
		if dx*dx+dy*dy <= r2 {
			out = append(out, o)
		}
	}
	return out
}

// --- Bodies ---

func (s *State) AddBody(b *Body)          { s.bodies[b.ID] = b }
func (s *State) Body(id int64) *Body      { return s.bodies[id] }
func (s *State) RemoveBody(id int64)      { delete(s.bodies, id) }
func (s *State) Bodies() map[int64]*Body  { return s.bodies }

// --- Forageables ---

func (s *State) AddForageNode(n *ForageableNode) { s.forage[n.ID] = n }

func (s *State) ForageNode(id int64) *ForageableNode { return s.forage[id] }

// ForageNodes returns all nodes sorted by id.
func (s *State) ForageNodes() []*ForageableNode {
	s.forageBuf = s.forageBuf[:0]
	for _, n := range s.forage {
		s.forageBuf = append(s.forageBuf, n)
	}
	sort.Slice(s.forageBuf, func(i, j int) bool { return s.forageBuf[i].ID < s.forageBuf[j].ID })
	return s.forageBuf
}

// --- Train queue ---

// EnqueueTrain appends a resident to the arrival queue.
func (s *State) EnqueueTrain(id int64) {
	s.trainQueue = append(s.trainQueue, id)
}

// DrainTrain empties the queue FIFO and returns the riders.
func (s *State) DrainTrain() []int64 {
	q := s.trainQueue
	s.trainQueue = nil
	return q
}

// TrainQueueLen returns the number of residents awaiting arrival.
func (s *State) TrainQueueLen() int { return len(s.trainQueue) }

// --- Jobs ---

// EmployedCount returns how many residents currently hold the job.
func (s *State) EmployedCount(jobID int64) int {
	n := 0
	for _, r := range s.byID {
		if r.Job != nil && r.Job.JobID == jobID && r.Status == StatusAlive {
			n++
		}
	}
	return n
}

// --- Petitions ---

// SeedPetitionSeq primes the id sequence after loading persisted petitions.
func (s *State) SeedPetitionSeq() {
	for id := range s.Petitions {
		if id > s.petitionSeq {
			s.petitionSeq = id
		}
	}
}

// NextPetitionID hands out the next petition id. The loop assigns ids itself
// because repository writes are asynchronous.
func (s *State) NextPetitionID() int64 {
	s.petitionSeq++
	return s.petitionSeq
}

// --- Petition votes ---

// HasVoted reports whether the resident already voted on the petition.
func (s *State) HasVoted(petitionID, residentID int64) bool {
	_, ok := s.votes[petitionID][residentID]
	return ok
}

// RecordVote stores a ballot and updates the tally. Returns false when the
// (petition, resident) pair already has a vote row.
func (s *State) RecordVote(p *Petition, residentID int64, choice VoteChoice) bool {
	if s.HasVoted(p.ID, residentID) {
		return false
	}
	m := s.votes[p.ID]
	if m == nil {
		m = make(map[int64]VoteChoice, 4)
		s.votes[p.ID] = m
	}
	m[residentID] = choice
	if choice == VoteFor {
		p.VotesFor++
	} else {
		p.VotesAgainst++
	}
	return true
}

// --- Speech buffer ---

// AddSpeech buffers an utterance for the next perception flush.
func (s *State) AddSpeech(act SpeechAct) {
	s.speech = append(s.speech, act)
}

// TakeSpeech returns the buffered window and starts a fresh one. Called once
// per perception tick, after which the acts are history.
func (s *State) TakeSpeech() []SpeechAct {
	w := s.speech
	s.speech = nil
	return w
}

// PendingSpeech returns the un-flushed window without consuming it.
func (s *State) PendingSpeech() []SpeechAct { return s.speech }
