package memory

import (
	"sort"
	"sync"
	"time"

	"orionserver/internal/logger"
	"orionserver/internal/model"
)

// Defaults used when Options leave a field zero.
const (
	DefaultCapacity        = 1000
	DefaultEvictionWindow  = 5.0
	DefaultCleanupInterval = 300 * time.Second
	DefaultActivityLimit   = 5
)

type Options struct {
	Capacity        int
	EvictionWindow  float64 // in frame-timestamp units
	HealthCeiling   int // 0 = 2*Capacity+1
	CleanupInterval time.Duration
	ActivityLimit   int
	Clock           func() time.Time
}

func (o *Options) withDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.EvictionWindow <= 0 {
		o.EvictionWindow = DefaultEvictionWindow
	}
	if o.HealthCeiling <= 0 {
		o.HealthCeiling = 2*o.Capacity + 1
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.ActivityLimit <= 0 {
		o.ActivityLimit = DefaultActivityLimit
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type analysisRecord struct {
	storedAt time.Time
	analysis model.Analysis
}

// Stats summarizes what the memory currently holds.
type Stats struct {
	FramesInMemory    int    `json:"frames_in_memory"`
	TotalFramesSeen   uint64 `json:"total_frames_seen"`
	AnalysesInMemory  int    `json:"analyses_in_memory"`
	TotalAnalyses     uint64 `json:"total_analyses"`
	TrackedObjects    int    `json:"tracked_objects"`
	OngoingActivities int    `json:"ongoing_activities"`
	Capacity          int    `json:"capacity"`
}

// ContextMemory keeps a bounded history of frames, their analyses and the
// objects tracked across them. It is safe for concurrent use.
type ContextMemory struct {
	mu   sync.RWMutex
	opts Options
	log  *logger.Logger

	frames     *Ring[model.Frame]
	analyses   map[string]analysisRecord
	tracked    map[string]*model.TrackedObject
	activities []string
	scene      model.SceneState

	framesStored   uint64
	analysesStored uint64
	lastCleanup    time.Time
}

func NewContextMemory(opts Options, log *logger.Logger) *ContextMemory {
	opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	m := &ContextMemory{
		opts:       opts,
		log:        log,
		frames:     NewRing[model.Frame](opts.Capacity),
		analyses:   make(map[string]analysisRecord),
		tracked:    make(map[string]*model.TrackedObject),
		activities: []string{},
	}
	log.Info("Context memory initialized with %d frame capacity", opts.Capacity)
	return m
}

// AddFrame stores the frame, updates tracked objects for every detection with
// a track id and evicts objects not seen within the eviction window.
func (m *ContextMemory) AddFrame(frame model.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame.Detections = model.CloneDetections(frame.Detections)
	frame.ImageData = nil
	if evicted, ok := m.frames.Push(frame); ok {
		m.forgetAnalysis(evicted.FrameID)
	}
	m.framesStored++

	touched := make(map[string]struct{})
	for _, det := range frame.Detections {
		if !det.HasTrack() {
			continue
		}
		key := det.TrackKey()
		touched[key] = struct{}{}

		obj, ok := m.tracked[key]
		if !ok {
			m.tracked[key] = &model.TrackedObject{
				Key:               key,
				Label:             det.Label,
				TrackID:           *det.TrackID,
				FirstSeen:         frame.Timestamp,
				LastSeen:          frame.Timestamp,
				DetectionCount:    1,
				AverageConfidence: det.Confidence,
				Trajectory:        [][4]float64{det.BBox},
			}
			continue
		}
		obj.LastSeen = frame.Timestamp
		obj.DetectionCount++
		n := float64(obj.DetectionCount)
		obj.AverageConfidence = (obj.AverageConfidence*(n-1) + det.Confidence) / n
		obj.Trajectory = append(obj.Trajectory, det.BBox)
	}

	cutoff := frame.Timestamp - m.opts.EvictionWindow
	for key, obj := range m.tracked {
		if _, ok := touched[key]; ok {
			continue
		}
		if obj.LastSeen < cutoff {
			delete(m.tracked, key)
		}
	}
}

// forgetAnalysis drops the analysis of a frame that left the ring, unless
// another stored frame carries the same id.
func (m *ContextMemory) forgetAnalysis(frameID string) {
	if _, ok := m.analyses[frameID]; !ok {
		return
	}
	stillStored := false
	m.frames.Do(func(f model.Frame) bool {
		stillStored = f.FrameID == frameID
		return !stillStored
	})
	if !stillStored {
		delete(m.analyses, frameID)
	}
}

// AddAnalysis records the analysis of a frame and folds its insights into
// the ongoing activities and the scene state.
func (m *ContextMemory) AddAnalysis(frameID string, analysis model.Analysis) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock()
	analysis.ContextualInsights = append([]string(nil), analysis.ContextualInsights...)
	m.analyses[frameID] = analysisRecord{storedAt: now, analysis: analysis}
	m.analysesStored++

	for _, insight := range analysis.ContextualInsights {
		m.noteActivity(insight)
	}
	m.scene = model.SceneState{
		LastDescription: analysis.SceneDescription,
		Confidence:      analysis.Confidence,
		Timestamp:       now,
	}
}

// noteActivity moves insight to the most recent position, keeping at most
// ActivityLimit distinct entries.
func (m *ContextMemory) noteActivity(insight string) {
	if insight == "" {
		return
	}
	for i, a := range m.activities {
		if a == insight {
			m.activities = append(m.activities[:i], m.activities[i+1:]...)
			break
		}
	}
	m.activities = append(m.activities, insight)
	if extra := len(m.activities) - m.opts.ActivityLimit; extra > 0 {
		m.activities = append([]string(nil), m.activities[extra:]...)
	}
}

// GetRecentContext returns up to limit stored frames other than currentFrameID,
// most recent first selection, reported in chronological order. Each entry
// carries the tracked objects seen within the eviction window of its frame.
func (m *ContextMemory) GetRecentContext(currentFrameID string, limit int) []model.ContextEntry {
	if limit <= 0 {
		return []model.ContextEntry{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]model.ContextEntry, 0, limit)
	seen := make(map[string]struct{})
	m.frames.Do(func(f model.Frame) bool {
		if len(entries) >= limit {
			return false
		}
		if f.FrameID == currentFrameID {
			return true
		}
		if _, dup := seen[f.FrameID]; dup {
			return true
		}
		seen[f.FrameID] = struct{}{}
		entries = append(entries, m.entryFor(f))
		return true
	})

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (m *ContextMemory) entryFor(f model.Frame) model.ContextEntry {
	entry := model.ContextEntry{
		FrameID:           f.FrameID,
		Timestamp:         f.Timestamp,
		Detections:        model.CloneDetections(f.Detections),
		Description:       f.Description,
		OngoingActivities: append([]string{}, m.activities...),
		TrackedObjects:    make(map[string]model.TrackedObject),
	}
	if rec, ok := m.analyses[f.FrameID]; ok {
		a := rec.analysis
		entry.Analysis = &a
	}
	cutoff := f.Timestamp - m.opts.EvictionWindow
	for key, obj := range m.tracked {
		if obj.LastSeen >= cutoff {
			entry.TrackedObjects[key] = obj.Clone()
		}
	}
	return entry
}

// CleanupOldEntries drops analyses whose frames have left the ring buffer.
// It does nothing unless CleanupInterval has passed since the previous run
// and reports whether it ran.
func (m *ContextMemory) CleanupOldEntries() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock()
	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < m.opts.CleanupInterval {
		return false
	}

	present := make(map[string]struct{}, m.frames.Len())
	m.frames.Do(func(f model.Frame) bool {
		present[f.FrameID] = struct{}{}
		return true
	})
	removed := 0
	for id := range m.analyses {
		if _, ok := present[id]; !ok {
			delete(m.analyses, id)
			removed++
		}
	}
	m.lastCleanup = now
	m.log.Info("Context memory cleanup removed %d analyses", removed)
	return true
}

// IsHealthy reports whether stored frames plus analyses stay under the ceiling.
func (m *ContextMemory) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames.Len()+len(m.analyses) < m.opts.HealthCeiling
}

// TrackedObjects returns a snapshot of tracked objects sorted by key.
func (m *ContextMemory) TrackedObjects() []model.TrackedObject {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.TrackedObject, 0, len(m.tracked))
	for _, obj := range m.tracked {
		out = append(out, obj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// OngoingActivities returns the recent distinct insights, oldest first.
func (m *ContextMemory) OngoingActivities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.activities...)
}

// SceneState returns the latest scene snapshot and whether one exists.
func (m *ContextMemory) SceneState() (model.SceneState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scene, !m.scene.Timestamp.IsZero()
}

func (m *ContextMemory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		FramesInMemory:    m.frames.Len(),
		TotalFramesSeen:   m.framesStored,
		AnalysesInMemory:  len(m.analyses),
		TotalAnalyses:     m.analysesStored,
		TrackedObjects:    len(m.tracked),
		OngoingActivities: len(m.activities),
		Capacity:          m.frames.Cap(),
	}
}

// Clear drops all stored context and resets counters.
func (m *ContextMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames.Clear()
	m.analyses = make(map[string]analysisRecord)
	m.tracked = make(map[string]*model.TrackedObject)
	m.activities = []string{}
	m.scene = model.SceneState{}
	m.framesStored, m.analysesStored = 0, 0
	m.lastCleanup = time.Time{}
	m.log.Info("Context memory cleared")
}
