package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
)

const defaultSweepInterval = 30 * time.Second

// PrinterManager tracks the printers the service knows about. A printer is
// online while it keeps reporting status and goes offline after a quiet
// period.
type PrinterManager struct {
	mu            sync.RWMutex
	printers      map[string]*Printer
	order         []string
	offlineAfter  time.Duration
	sweepInterval time.Duration
	logger        logrus.FieldLogger
	now           func() time.Time
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
}

func NewPrinterManager(cfg *config.PrintersConfig, logger logrus.FieldLogger) *PrinterManager {
	if cfg == nil {
		cfg = &config.PrintersConfig{}
	}

	pm := &PrinterManager{
		printers:      make(map[string]*Printer),
		offlineAfter:  cfg.OfflineAfter,
		sweepInterval: defaultSweepInterval,
		logger:        logger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}

	if pm.offlineAfter > 0 && pm.offlineAfter < pm.sweepInterval {
		pm.sweepInterval = pm.offlineAfter
	}

	for _, p := range cfg.Known {
		if _, exists := pm.printers[p.ID]; exists {
			continue
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		pm.printers[p.ID] = &Printer{ID: p.ID, Name: name, Status: PrinterUnknown}
		pm.order = append(pm.order, p.ID)
	}

	return pm
}

// Start runs the offline sweep. It does nothing when no printers are
// configured or the threshold is zero.
func (pm *PrinterManager) Start() {
	pm.mu.Lock()
	if pm.running || len(pm.printers) == 0 || pm.offlineAfter <= 0 {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.sweepLoop()
}

func (pm *PrinterManager) Stop() {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = false
	pm.mu.Unlock()

	close(pm.stopCh)
	pm.wg.Wait()
}

func (pm *PrinterManager) sweepLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.sweep()
		}
	}
}

func (pm *PrinterManager) sweep() {
	cutoff := pm.now().Add(-pm.offlineAfter)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.printers {
		if p.Status != PrinterOnline || p.LastSeenAt == nil || p.LastSeenAt.After(cutoff) {
			continue
		}
		p.Status = PrinterOffline
		if pm.logger != nil {
			pm.logger.WithField("printer_id", p.ID).Warn("printer went quiet, marking offline")
		}
	}
}

// MarkSeen records activity from a known printer. Unknown ids are ignored.
func (pm *PrinterManager) MarkSeen(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, exists := pm.printers[id]
	if !exists {
		return
	}
	now := pm.now()
	p.LastSeenAt = &now
	if p.Status != PrinterOnline && pm.logger != nil {
		pm.logger.WithFields(logrus.Fields{"printer_id": id, "previous": p.Status}).Info("printer online")
	}
	p.Status = PrinterOnline
}

// IncrementJobCount counts a job dispatched to a known printer.
func (pm *PrinterManager) IncrementJobCount(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p, exists := pm.printers[id]; exists {
		p.TotalJobs++
	}
}

func (pm *PrinterManager) GetPrinter(id string) (Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, exists := pm.printers[id]
	if !exists {
		return Printer{}, fmt.Errorf("%w: %s", ErrPrinterNotFound, id)
	}
	return copyPrinter(p), nil
}

// ListPrinters returns printers in configuration order.
func (pm *PrinterManager) ListPrinters() []Printer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]Printer, 0, len(pm.order))
	for _, id := range pm.order {
		printers = append(printers, copyPrinter(pm.printers[id]))
	}
	return printers
}

func copyPrinter(p *Printer) Printer {
	cp := *p
	if p.LastSeenAt != nil {
		seen := *p.LastSeenAt
		cp.LastSeenAt = &seen
	}
	return cp
}
