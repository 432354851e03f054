package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"

	// Ledger rows older than this are dropped at startup.
	retentionDays = 90
)

// DayTotals is one day's aggregated spend as persisted by the store.
type DayTotals struct {
	Day       string
	CostUSD   float64
	TokensIn  int64
	TokensOut int64
	Calls     int64
}

// Store is the durable backing for daily spend aggregates.
type Store interface {
	AddSpend(ctx context.Context, day string, costUSD float64, tokensIn, tokensOut int) error
	LoadDaysSince(ctx context.Context, since string) ([]DayTotals, error)
	PurgeDaysBefore(ctx context.Context, cutoff string) error
}

// Ledger tracks cumulative spend against daily and monthly budgets and
// gates every paid call. All access is serialized by a single mutex; the
// gate works by optimistic reservation so the pre-flight check and the
// spend commit form one atomic unit without holding the lock across the
// network wait.
type Ledger struct {
	mu            sync.Mutex
	store         Store
	dailyLimit    float64
	monthlyBudget float64
	dayCost       map[string]float64
	reserved      float64

	now func() time.Time
}

// Summary reports current spend against the configured budgets.
type Summary struct {
	DailyCost        float64
	DailyLimit       float64
	DailyRemaining   float64
	MonthlyCost      float64
	MonthlyBudget    float64
	MonthlyRemaining float64
}

// New loads recorded spend from the store so a restart never resets the
// day's or month's accumulated totals, and purges rows past retention.
func New(ctx context.Context, store Store, dailyLimit, monthlyBudget float64) (*Ledger, error) {
	if dailyLimit <= 0 || monthlyBudget <= 0 {
		return nil, fmt.Errorf("ledger: budgets must be positive (daily %v, monthly %v)", dailyLimit, monthlyBudget)
	}

	l := &Ledger{
		store:         store,
		dailyLimit:    dailyLimit,
		monthlyBudget: monthlyBudget,
		dayCost:       map[string]float64{},
		now:           time.Now,
	}

	cutoff := l.now().AddDate(0, 0, -retentionDays).Format(dayFormat)
	if err := store.PurgeDaysBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("ledger: purge old days: %w", err)
	}

	days, err := store.LoadDaysSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("ledger: load days: %w", err)
	}
	for _, d := range days {
		l.dayCost[d.Day] = d.CostUSD
	}

	return l, nil
}

// CanSpend reports whether the estimate fits both remaining budgets. It does
// not hold the amount; callers issuing a paid call must use Reserve so two
// concurrent checks cannot both pass on stale totals.
func (l *Ledger) CanSpend(estimateUSD float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fits(estimateUSD)
}

// Reserve atomically checks both budgets and holds the estimate. The second
// return is false when either budget would be exceeded. A granted
// reservation must be settled exactly once via Commit or Release.
func (l *Ledger) Reserve(estimateUSD float64) (*Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fits(estimateUSD) {
		return nil, false
	}
	l.reserved += estimateUSD
	return &Reservation{ledger: l, estimate: estimateUSD}, true
}

// fits requires l.mu held.
func (l *Ledger) fits(estimateUSD float64) bool {
	now := l.now()
	day := now.Format(dayFormat)
	month := now.Format(monthFormat)

	if l.dayCost[day]+l.reserved+estimateUSD > l.dailyLimit {
		return false
	}
	if l.monthCostLocked(month)+l.reserved+estimateUSD > l.monthlyBudget {
		return false
	}
	return true
}

// monthCostLocked recomputes the monthly total as the sum of daily totals.
// Requires l.mu held.
func (l *Ledger) monthCostLocked(month string) float64 {
	var total float64
	for day, cost := range l.dayCost {
		if strings.HasPrefix(day, month) {
			total += cost
		}
	}
	return total
}

// Summary returns current spend totals for reporting.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	daily := l.dayCost[now.Format(dayFormat)]
	monthly := l.monthCostLocked(now.Format(monthFormat))

	return Summary{
		DailyCost:        daily,
		DailyLimit:       l.dailyLimit,
		DailyRemaining:   max(0, l.dailyLimit-daily),
		MonthlyCost:      monthly,
		MonthlyBudget:    l.monthlyBudget,
		MonthlyRemaining: max(0, l.monthlyBudget-monthly),
	}
}

// Reservation is an outstanding budget hold for one paid call.
type Reservation struct {
	ledger   *Ledger
	estimate float64
	settled  bool
}

// Commit reconciles the hold to the actual billed cost and persists it.
// It must be called once for every call that returned a billable response,
// whether or not the result is kept. Over-reservation is refunded; spend
// beyond the estimate is charged as billed.
func (r *Reservation) Commit(ctx context.Context, costUSD float64, tokensIn, tokensOut int) error {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.settled {
		return fmt.Errorf("ledger: reservation already settled")
	}
	r.settled = true
	l.reserved -= r.estimate

	day := l.now().Format(dayFormat)
	l.dayCost[day] += costUSD

	if err := l.store.AddSpend(ctx, day, costUSD, tokensIn, tokensOut); err != nil {
		return fmt.Errorf("ledger: persist spend: %w", err)
	}
	return nil
}

// Release returns the full hold without recording spend, for calls that
// produced no billable response.
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.settled {
		return
	}
	r.settled = true
	l.reserved -= r.estimate
}
