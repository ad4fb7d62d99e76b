package metrics

import "github.com/prometheus/client_golang/prometheus"

// VisitMetrics exposes counters for reconciliation and print cycles.
type VisitMetrics struct {
	gateSkips   *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	saves       *prometheus.CounterVec
	printCycles *prometheus.CounterVec
}

func NewVisitMetrics(reg prometheus.Registerer) *VisitMetrics {
	m := &VisitMetrics{
		gateSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climasys",
			Subsystem: "visit",
			Name:      "gate_skips_total",
			Help:      "Fetched rows skipped because a save snapshot held the kind",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climasys",
			Subsystem: "visit",
			Name:      "duplicate_entries_total",
			Help:      "Entries rejected as duplicates on add",
		}, []string{"kind"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climasys",
			Subsystem: "visit",
			Name:      "saves_total",
			Help:      "Visit saves by outcome",
		}, []string{"outcome"}),
		printCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climasys",
			Subsystem: "print",
			Name:      "cycles_total",
			Help:      "Print cycles by the detector that closed the first dialog",
		}, []string{"detector", "secondary"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.gateSkips, m.duplicates, m.saves, m.printCycles)
	return m
}

func (m *VisitMetrics) ObserveGateSkip(kind string) {
	if m == nil {
		return
	}
	m.gateSkips.WithLabelValues(kind).Inc()
}

func (m *VisitMetrics) ObserveDuplicates(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.WithLabelValues(kind).Add(float64(n))
}

func (m *VisitMetrics) ObserveSave(outcome string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
}

func (m *VisitMetrics) ObservePrintCycle(detector string, secondary bool) {
	if m == nil {
		return
	}
	label := "false"
	if secondary {
		label = "true"
	}
	m.printCycles.WithLabelValues(detector, label).Inc()
}
