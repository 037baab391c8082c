// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package coldstart classifies new users into fast / stable / cautious
// learning styles from three fixed probe actions and steers selection until
// the bandits have enough evidence to take over.
//
// The phase machine is classify → explore → normal. During classify each
// event is scored against per-type Gaussian response models and a posterior
// over the three types is maintained; a confident posterior stops probing
// early. During explore the user works their type's settled strategy while
// the learners warm up. The manager is not safe for concurrent use; the
// engine serialises access per user.
package coldstart

import (
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const snapshotVersion = 1

const (
	// probeCount is the fixed length of the probe sequence.
	probeCount = 3

	// historyLimit bounds the retained probe results per user.
	historyLimit = 20

	// normalUpdateThreshold is the update count at which a fully probed
	// user leaves explore.
	normalUpdateThreshold = 8

	// correctnessSigma is the spread of the Gaussian over the 0/1
	// correctness signal.
	correctnessSigma = 0.2

	// correctnessThreshold splits the combined reward/error signal into
	// correct and incorrect for the posterior.
	correctnessThreshold = 0.5
)

// probeIndices is the fixed probe order: baseline, ceiling, support.
var probeIndices = [probeCount]int{
	actionspace.IndexProbeBaseline,
	actionspace.IndexProbeCeiling,
	actionspace.IndexProbeSupport,
}

// userTypes fixes the iteration order of the classifier so arg-max ties
// resolve deterministically.
var userTypes = [3]core.UserType{core.UserTypeFast, core.UserTypeStable, core.UserTypeCautious}

// typeParams is the Gaussian response model of one user type: expected
// response time and correctness per probe.
type typeParams struct {
	sigmaRT   float64
	muRT      [probeCount]float64
	muCorrect [probeCount]float64
}

// classifierParams, indexed like userTypes. Means come from answer-history
// percentiles of the three style clusters; the ceiling probe is expected to
// slow everyone down and the support probe to speed everyone up.
var classifierParams = [3]typeParams{
	{sigmaRT: 600, muRT: [probeCount]float64{1200, 1500, 1000}, muCorrect: [probeCount]float64{0.85, 0.70, 0.95}},
	{sigmaRT: 900, muRT: [probeCount]float64{2500, 3200, 2000}, muCorrect: [probeCount]float64{0.75, 0.55, 0.90}},
	{sigmaRT: 1500, muRT: [probeCount]float64{4200, 5000, 3500}, muCorrect: [probeCount]float64{0.60, 0.40, 0.80}},
}

// fallbackPrior is the type mix assumed when no empirical one is available:
// half the population is stable, the tails split evenly.
var fallbackPrior = [3]float64{0.25, 0.5, 0.25}

// settledIndexFor maps a classified type onto its settled catalogue entry.
func settledIndexFor(t core.UserType) int {
	switch t {
	case core.UserTypeFast:
		return actionspace.IndexSettledFast
	case core.UserTypeCautious:
		return actionspace.IndexSettledCautious
	default:
		return actionspace.IndexSettledStable
	}
}

// PriorSource supplies the process-wide empirical user-type mix, typically
// backed by the stats tracker. Implementations may hit storage; the manager
// caches the result.
type PriorSource interface {
	UserTypeMix() (map[core.UserType]float64, error)
}

// Config tunes one manager instance.
type Config struct {
	// EarlyStopThreshold is the posterior mass at which probing stops
	// before all three probes ran.
	EarlyStopThreshold float64

	// MinProbes is the number of probes required before an early stop.
	MinProbes int

	// PriorTTL bounds how long a fetched empirical prior is reused.
	PriorTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EarlyStopThreshold: 0.85,
		MinProbes:          2,
		PriorTTL:           time.Hour,
	}
}

// probeResult is one recorded classification observation. Probe is -1 for
// post-classification events, which are kept for observability but carry no
// likelihood.
type probeResult struct {
	Probe          int     `json:"probe"`
	Correct        bool    `json:"correct"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// Manager runs the cold-start phase machine for one user.
type Manager struct {
	cfg Config

	phase       core.Phase
	userType    core.UserType
	probeIndex  int
	history     []probeResult
	settledIdx  int // -1 until classified
	updateCount uint64
	posterior   [3]float64
	earlyStop   bool

	priors      PriorSource
	priorCache  [3]float64
	priorLoaded time.Time

	now func() time.Time
	log zerolog.Logger
}

// NewManager returns a manager in the classify phase. priors may be nil, in
// which case the fallback mix is used throughout.
func NewManager(cfg Config, priors PriorSource) *Manager {
	if cfg.EarlyStopThreshold <= 0 || cfg.EarlyStopThreshold > 1 {
		cfg.EarlyStopThreshold = 0.85
	}
	if cfg.MinProbes < 1 || cfg.MinProbes > probeCount {
		cfg.MinProbes = 2
	}
	if cfg.PriorTTL <= 0 {
		cfg.PriorTTL = time.Hour
	}

	return &Manager{
		cfg:        cfg,
		phase:      core.PhaseClassify,
		settledIdx: -1,
		posterior:  fallbackPrior,
		priors:     priors,
		now:        time.Now,
		log:        logging.WithComponent("coldstart"),
	}
}

// Phase reports the current lifecycle stage.
func (m *Manager) Phase() core.Phase { return m.phase }

// UserType reports the classified type, or UserTypeUnknown before
// classification.
func (m *Manager) UserType() core.UserType { return m.userType }

// UpdateCount reports how many events the manager has absorbed.
func (m *Manager) UpdateCount() uint64 { return m.updateCount }

// EarlyStopped reports whether classification fired before all probes ran.
func (m *Manager) EarlyStopped() bool { return m.earlyStop }

// Posterior returns the current type posterior, keyed by user type.
func (m *Manager) Posterior() map[core.UserType]float64 {
	out := make(map[core.UserType]float64, len(userTypes))
	for i, t := range userTypes {
		out[t] = m.posterior[i]
	}
	return out
}

// SettledAction returns the settled strategy, if classified.
func (m *Manager) SettledAction() (actionspace.Action, bool) {
	if m.settledIdx < 0 {
		return actionspace.Action{}, false
	}
	a, err := actionspace.At(m.settledIdx)
	if err != nil {
		return actionspace.Action{}, false
	}
	return a, true
}

// Target is the action the manager is steering toward right now: the
// pending probe during classify, the settled strategy afterwards.
func (m *Manager) Target() actionspace.Action {
	if m.phase == core.PhaseClassify || m.settledIdx < 0 {
		i := m.probeIndex
		if i >= probeCount {
			i = probeCount - 1
		}
		a, _ := actionspace.At(probeIndices[i])
		return a
	}
	a, _ := actionspace.At(m.settledIdx)
	return a
}

// Select picks the candidate nearest the current target. Confidence is the
// posterior mass of the leading type.
func (m *Manager) Select(actions []actionspace.Action) (int, float64, error) {
	if len(actions) == 0 {
		return 0, 0, amaserr.Ef(amaserr.KindInputSanitisation, "coldstart.Manager.Select", "no candidate actions")
	}

	target := m.Target()
	best := 0
	bestDist := actionspace.Distance(actions[0], target)
	for i := 1; i < len(actions); i++ {
		if d := actionspace.Distance(actions[i], target); d < bestDist {
			best, bestDist = i, d
		}
	}

	_, conf := m.leadingType()
	return best, conf, nil
}

// Update absorbs one event outcome. During classify it records a probe
// observation and refreshes the posterior; afterwards it only advances the
// phase machine. Non-finite rewards count as incorrect rather than being
// dropped: the user did answer, we just cannot trust the score.
func (m *Manager) Update(reward float64, ctx core.DecisionContext) {
	m.updateCount++

	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		metrics.SanitisedInputs.WithLabelValues("reward").Inc()
		reward = -1
	}

	errRate := clamp01(ctx.RecentErrorRate)
	combined := 0.6*clamp(reward, -1, 1) + 0.4*(1-errRate)
	result := probeResult{
		Probe:          -1,
		Correct:        combined >= correctnessThreshold,
		ResponseTimeMs: sanitizeRT(ctx.RecentResponseTimeMs),
		ErrorRate:      errRate,
	}

	if m.phase == core.PhaseClassify && m.probeIndex < probeCount {
		result.Probe = m.probeIndex
		m.probeIndex++
	}
	m.record(result)

	if m.phase == core.PhaseClassify {
		m.posterior = m.computePosterior()
		lead, mass := m.leadingType()

		switch {
		case m.probeIndex >= m.cfg.MinProbes && mass >= m.cfg.EarlyStopThreshold:
			m.classify(lead, true)
			m.probeIndex = probeCount
			m.phase = core.PhaseExplore
		case m.probeIndex >= probeCount:
			m.classify(lead, false)
			m.phase = core.PhaseExplore
		}
	}

	if m.phase != core.PhaseNormal && m.updateCount >= normalUpdateThreshold && m.probeIndex >= probeCount {
		m.phase = core.PhaseNormal
		if m.settledIdx < 0 {
			// Safety net: a restored or skipped state reached normal
			// without a classification.
			m.posterior = m.computePosterior()
			lead, _ := m.leadingType()
			m.classify(lead, false)
		}
	}
}

func (m *Manager) record(r probeResult) {
	m.history = append(m.history, r)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *Manager) classify(t core.UserType, early bool) {
	m.userType = t
	m.settledIdx = settledIndexFor(t)
	m.earlyStop = early
	metrics.ColdStartClassifications.WithLabelValues(string(t), strconv.FormatBool(early)).Inc()
	m.log.Info().
		Str("user_type", string(t)).
		Bool("early_stop", early).
		Int("probes", m.probeIndex).
		Float64("posterior", m.posterior[typeIndex(t)]).
		Msg("cold-start classification")
}

// computePosterior scores the probe-keyed history against each type's
// Gaussian response model on top of the empirical prior. A degenerate
// likelihood (all types at zero density) falls back to the prior alone.
func (m *Manager) computePosterior() [3]float64 {
	post := m.prior()

	for _, obs := range m.history {
		if obs.Probe < 0 || obs.Probe >= probeCount {
			continue
		}
		correct01 := 0.0
		if obs.Correct {
			correct01 = 1.0
		}

		var next [3]float64
		var sum float64
		for i, p := range classifierParams {
			rtDist := distuv.Normal{Mu: p.muRT[obs.Probe], Sigma: p.sigmaRT}
			cDist := distuv.Normal{Mu: p.muCorrect[obs.Probe], Sigma: correctnessSigma}
			like := rtDist.Prob(obs.ResponseTimeMs) * cDist.Prob(correct01)
			next[i] = post[i] * like
			sum += next[i]
		}
		if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			continue
		}
		for i := range next {
			next[i] /= sum
		}
		post = next
	}
	return post
}

// leadingType returns the arg-max of the cached posterior; ties resolve in
// userTypes order.
func (m *Manager) leadingType() (core.UserType, float64) {
	best := 0
	for i := 1; i < len(m.posterior); i++ {
		if m.posterior[i] > m.posterior[best] {
			best = i
		}
	}
	return userTypes[best], m.posterior[best]
}

// prior returns the current classification prior: the cached empirical mix
// when fresh, refetched past TTL, the fallback on any failure.
func (m *Manager) prior() [3]float64 {
	if m.priors == nil {
		return fallbackPrior
	}
	if !m.priorLoaded.IsZero() && m.now().Sub(m.priorLoaded) < m.cfg.PriorTTL {
		return m.priorCache
	}

	mix, err := m.priors.UserTypeMix()
	if err != nil {
		m.log.Warn().Err(err).Msg("user-type mix unavailable, using fallback prior")
		return fallbackPrior
	}

	var p [3]float64
	var sum float64
	for i, t := range userTypes {
		v := mix[t]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		p[i] = v
		sum += v
	}
	if sum <= 0 {
		return fallbackPrior
	}
	for i := range p {
		p[i] /= sum
	}

	m.priorCache = p
	m.priorLoaded = m.now()
	return p
}

func typeIndex(t core.UserType) int {
	for i, u := range userTypes {
		if u == t {
			return i
		}
	}
	return 1 // stable
}

type snapshot struct {
	Version     int           `json:"version"`
	Phase       core.Phase    `json:"phase"`
	UserType    core.UserType `json:"user_type"`
	ProbeIndex  int           `json:"probe_index"`
	History     []probeResult `json:"history"`
	SettledIdx  int           `json:"settled_idx"`
	UpdateCount uint64        `json:"update_count"`
	Posterior   [3]float64    `json:"posterior"`
	EarlyStop   bool          `json:"early_stop"`
}

// Snapshot serialises the phase-machine state.
func (m *Manager) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(snapshot{
		Version:     snapshotVersion,
		Phase:       m.phase,
		UserType:    m.userType,
		ProbeIndex:  m.probeIndex,
		History:     m.history,
		SettledIdx:  m.settledIdx,
		UpdateCount: m.updateCount,
		Posterior:   m.posterior,
		EarlyStop:   m.earlyStop,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal coldstart snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the phase-machine state. Version downgrades are
// rejected; individually corrupt fields are repaired to safe values and
// counted rather than failing the whole restore.
func (m *Manager) Restore(raw json.RawMessage) error {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal coldstart snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "coldstart.Manager.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	corrupt := false

	switch snap.Phase {
	case core.PhaseClassify, core.PhaseExplore, core.PhaseNormal:
		m.phase = snap.Phase
	default:
		m.phase = core.PhaseClassify
		corrupt = true
	}

	switch snap.UserType {
	case core.UserTypeUnknown, core.UserTypeFast, core.UserTypeStable, core.UserTypeCautious:
		m.userType = snap.UserType
	default:
		m.userType = core.UserTypeUnknown
		corrupt = true
	}

	m.probeIndex = snap.ProbeIndex
	if m.probeIndex < 0 || m.probeIndex > probeCount {
		m.probeIndex = 0
		corrupt = true
	}

	m.history = m.history[:0]
	for _, r := range snap.History {
		if math.IsNaN(r.ResponseTimeMs) || math.IsInf(r.ResponseTimeMs, 0) ||
			math.IsNaN(r.ErrorRate) || math.IsInf(r.ErrorRate, 0) ||
			r.Probe < -1 || r.Probe >= probeCount {
			corrupt = true
			continue
		}
		m.record(r)
	}

	m.settledIdx = snap.SettledIdx
	if m.settledIdx != -1 {
		if _, err := actionspace.At(m.settledIdx); err != nil {
			m.settledIdx = -1
			corrupt = true
		}
	}
	// A classified user must carry a settled strategy and vice versa.
	if m.userType != core.UserTypeUnknown && m.settledIdx < 0 {
		m.settledIdx = settledIndexFor(m.userType)
	}
	if m.userType == core.UserTypeUnknown {
		m.settledIdx = -1
	}

	m.updateCount = snap.UpdateCount
	m.earlyStop = snap.EarlyStop

	var sum float64
	valid := true
	for _, v := range snap.Posterior {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			valid = false
			break
		}
		sum += v
	}
	if valid && sum > 0 {
		for i, v := range snap.Posterior {
			m.posterior[i] = v / sum
		}
	} else {
		m.posterior = fallbackPrior
		corrupt = true
	}

	if corrupt {
		metrics.StateCorruptions.WithLabelValues("coldstart").Inc()
		m.log.Warn().Msg("coldstart snapshot carried invalid fields, repaired")
	}
	return nil
}

func sanitizeRT(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
