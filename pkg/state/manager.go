package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"perpsim/pkg/common"
	"perpsim/pkg/engine"
)

const (
	balancesFile   = "balances.json"
	positionsFile  = "positions.json"
	ordersFile     = "orders.json"
	historyFile    = "order_history.json"
	simulationFile = "simulation_state.json"
)

// SimulationState is the marker record tying a snapshot to a point in
// virtual time.
type SimulationState struct {
	CurrentTime      int64  `json:"currentTime"`
	TotalRealizedPnl string `json:"totalRealizedPnl"`
	LastSave         string `json:"lastSave"`
}

// Manager persists whole snapshots as five JSON files in one directory.
// Saves are best-effort, in-memory state stays the source of truth and a
// failed write never rolls anything back.
type Manager struct {
	dir string
	log *slog.Logger
}

func NewManager(dir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{dir: dir, log: log}
}

// Save writes the snapshot plus the simulation marker. Each file is
// written to a temp name and renamed so readers never see a torn file.
func (m *Manager) Save(snapshot engine.Snapshot, now time.Time) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	balances := make(map[string]common.BalanceDTO, len(snapshot.Balances))
	for _, b := range snapshot.Balances {
		balances[b.Asset] = b
	}
	positions := make(map[string]common.PositionDTO, len(snapshot.Positions))
	for _, p := range snapshot.Positions {
		positions[p.Symbol+"_"+p.PositionSide] = p
	}
	orders := make(map[string]common.OrderDTO, len(snapshot.OpenOrders))
	for _, o := range snapshot.OpenOrders {
		orders[o.OrderID] = o
	}

	files := map[string]any{
		balancesFile:  balances,
		positionsFile: positions,
		ordersFile:    orders,
		historyFile:   snapshot.History,
		simulationFile: SimulationState{
			CurrentTime:      now.UnixMilli(),
			TotalRealizedPnl: snapshot.TotalRealizedPnl,
			LastSave:         time.Now().UTC().Format(time.RFC3339),
		},
	}
	for name, payload := range files {
		if err := m.writeFile(name, payload); err != nil {
			return err
		}
	}
	m.log.Debug("state saved", "dir", m.dir, "time", now)
	return nil
}

// Load reads a previously saved snapshot. A directory with no simulation
// marker reports found=false with no error, a fresh run starts instead.
func (m *Manager) Load() (snapshot engine.Snapshot, simTime time.Time, found bool, err error) {
	var sim SimulationState
	ok, err := m.readFile(simulationFile, &sim)
	if err != nil || !ok {
		return engine.Snapshot{}, time.Time{}, false, err
	}

	var (
		balances  map[string]common.BalanceDTO
		positions map[string]common.PositionDTO
		orders    map[string]common.OrderDTO
		history   []common.OrderDTO
	)
	if _, err := m.readFile(balancesFile, &balances); err != nil {
		return engine.Snapshot{}, time.Time{}, false, err
	}
	if _, err := m.readFile(positionsFile, &positions); err != nil {
		return engine.Snapshot{}, time.Time{}, false, err
	}
	if _, err := m.readFile(ordersFile, &orders); err != nil {
		return engine.Snapshot{}, time.Time{}, false, err
	}
	if _, err := m.readFile(historyFile, &history); err != nil {
		return engine.Snapshot{}, time.Time{}, false, err
	}

	for _, b := range balances {
		snapshot.Balances = append(snapshot.Balances, b)
	}
	for _, p := range positions {
		snapshot.Positions = append(snapshot.Positions, p)
	}
	for _, o := range orders {
		snapshot.OpenOrders = append(snapshot.OpenOrders, o)
	}
	snapshot.History = history
	snapshot.TotalRealizedPnl = sim.TotalRealizedPnl
	return snapshot, time.UnixMilli(sim.CurrentTime), true, nil
}

// Clear deletes all saved snapshot files. Missing files are not an error.
func (m *Manager) Clear() error {
	for _, name := range []string{balancesFile, positionsFile, ordersFile, historyFile, simulationFile} {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	m.log.Debug("state cleared", "dir", m.dir)
	return nil
}

func (m *Manager) writeFile(name string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (m *Manager) readFile(name string, target any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}
