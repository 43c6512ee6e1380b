// Package store provides in-memory implementations of the engine's source
// and record interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	*engine.WarningBuffer

	mu         sync.RWMutex
	facilities map[engine.FacilityID]engine.Facility
	indicators map[engine.IndicatorCode]engine.Indicator
	fields     map[fieldKey]engine.FieldValue
	targets    map[targetKey]engine.FacilityTarget
	workers    map[engine.FacilityID][]engine.Worker
	records    map[engine.RecordKey]engine.RemunerationRecord
}

type fieldKey struct {
	Facility engine.FacilityID
	Month    engine.ReportMonth
	Field    engine.FieldKey
}

type targetKey struct {
	Facility  engine.FacilityID
	Month     engine.ReportMonth
	Indicator engine.IndicatorCode
}

func NewMemory() *Memory {
	return &Memory{
		WarningBuffer: engine.NewWarningBuffer(),
		facilities:    make(map[engine.FacilityID]engine.Facility),
		indicators:    make(map[engine.IndicatorCode]engine.Indicator),
		fields:        make(map[fieldKey]engine.FieldValue),
		targets:       make(map[targetKey]engine.FacilityTarget),
		workers:       make(map[engine.FacilityID][]engine.Worker),
		records:       make(map[engine.RecordKey]engine.RemunerationRecord),
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (m *Memory) PutFacility(f engine.Facility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilities[f.ID] = f
}

func (m *Memory) PutIndicator(ind engine.Indicator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicators[ind.Code] = ind
}

func (m *Memory) PutTarget(t engine.FacilityTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[targetKey{Facility: t.FacilityID, Month: t.Month, Indicator: t.Indicator}] = t
}

// PutWorker adds or replaces a worker in its facility's registry.
func (m *Memory) PutWorker(w engine.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.workers[w.FacilityID]
	for i := range list {
		if list[i].ID == w.ID {
			list[i] = w
			return
		}
	}
	m.workers[w.FacilityID] = append(list, w)
}

func (m *Memory) Facility(_ context.Context, id engine.FacilityID) (engine.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[id]
	if !ok {
		return engine.Facility{}, engine.ErrFacilityNotFound
	}
	return f, nil
}

func (m *Memory) Facilities(_ context.Context) ([]engine.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Facility, 0, len(m.facilities))
	for _, f := range m.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Indicators returns the catalog in code order; the aggregator re-sorts.
func (m *Memory) Indicators(_ context.Context) ([]engine.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Indicator, 0, len(m.indicators))
	for _, ind := range m.indicators {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) FacilityTargets(_ context.Context, facility engine.FacilityID, month engine.ReportMonth) (map[engine.IndicatorCode]engine.FacilityTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[engine.IndicatorCode]engine.FacilityTarget)
	for k, t := range m.targets {
		if k.Facility == facility && k.Month == month {
			out[k.Indicator] = t
		}
	}
	return out, nil
}

func (m *Memory) Workers(_ context.Context, facility engine.FacilityID) ([]engine.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Worker(nil), m.workers[facility]...), nil
}

// =============================================================================
// FIELD VALUES
// =============================================================================

func (m *Memory) FieldValues(_ context.Context, facility engine.FacilityID, month engine.ReportMonth) (map[engine.FieldKey]engine.FieldValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[engine.FieldKey]engine.FieldValue)
	for k, v := range m.fields {
		if k.Facility == facility && k.Month == month {
			out[k.Field] = v
		}
	}
	return out, nil
}

// SaveFieldValues upserts values. All-or-nothing under the store lock.
func (m *Memory) SaveFieldValues(_ context.Context, values []engine.FieldValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.fields[fieldKey{Facility: v.FacilityID, Month: v.Month, Field: v.Field}] = v
	}
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) GetRecord(_ context.Context, key engine.RecordKey) (engine.RemunerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return engine.RemunerationRecord{}, engine.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) UpsertRecord(_ context.Context, rec engine.RemunerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key()] = rec.Clone()
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, key engine.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) ListRecordKeys(_ context.Context) ([]engine.RecordKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]engine.RecordKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	return keys, nil
}
