package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolSnapshot is the subset of pgxpool statistics exported on scrape.
type poolSnapshot struct {
	Acquired     int32
	Idle         int32
	Total        int32
	Max          int32
	Acquires     int64
	EmptyAcquire int64
}

func snapshotPool(pool *pgxpool.Pool) func() poolSnapshot {
	return func() poolSnapshot {
		stat := pool.Stat()
		return poolSnapshot{
			Acquired:     stat.AcquiredConns(),
			Idle:         stat.IdleConns(),
			Total:        stat.TotalConns(),
			Max:          stat.MaxConns(),
			Acquires:     stat.AcquireCount(),
			EmptyAcquire: stat.EmptyAcquireCount(),
		}
	}
}

// poolCollector reads connection statistics of the postgres blob backend at
// scrape time.
type poolCollector struct {
	stats func() poolSnapshot

	conns        *prometheus.Desc
	acquires     *prometheus.Desc
	emptyAcquire *prometheus.Desc
}

// RegisterPoolMetrics exports live pgxpool statistics for the postgres
// store driver.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	registerPoolCollector(reg, snapshotPool(pool))
}

func registerPoolCollector(reg prometheus.Registerer, stats func() poolSnapshot) {
	reg.MustRegister(&poolCollector{
		stats: stats,
		conns: prometheus.NewDesc(
			"experimentz_db_pool_connections",
			"Blob backend database connections by state.",
			[]string{"state"}, nil,
		),
		acquires: prometheus.NewDesc(
			"experimentz_db_pool_acquires_total",
			"Connections acquired from the pool.",
			nil, nil,
		),
		emptyAcquire: prometheus.NewDesc(
			"experimentz_db_pool_empty_acquires_total",
			"Acquires that waited because the pool was empty.",
			nil, nil,
		),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.acquires
	ch <- c.emptyAcquire
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for state, v := range map[string]int32{
		"acquired": s.Acquired,
		"idle":     s.Idle,
		"total":    s.Total,
		"max":      s.Max,
	} {
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(v), state)
	}
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquire))
}
