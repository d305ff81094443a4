package reporting

import (
	"fmt"
	"strings"
	"time"
)

// PeriodType selects the bucket width of a report series.
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodYear  PeriodType = "year"
)

// bucketCounts is the fixed series length per period type.
var bucketCounts = map[PeriodType]int{
	PeriodDay:   7,
	PeriodWeek:  5,
	PeriodMonth: 6,
	PeriodYear:  5,
}

const isoDateLayout = "2006-01-02"

func ParsePeriodType(s string) (PeriodType, error) {
	pt := PeriodType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bucketCounts[pt]; !ok {
		return "", fmt.Errorf("invalid period_type %q: want day, week, month or year", s)
	}
	return pt, nil
}

// BucketCount returns how many buckets Buckets produces for pt.
func (pt PeriodType) BucketCount() int { return bucketCounts[pt] }

// Bucket is one point of a report series.
type Bucket struct {
	Date  time.Time `json:"-"`
	ISO   string    `json:"date"`
	Label string    `json:"label"`
}

// CivilDate drops the clock and zone of t, keeping its calendar day.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Buckets returns the ascending bucket dates ending on anchor. The result
// depends only on its arguments.
func Buckets(pt PeriodType, anchor time.Time) ([]Bucket, error) {
	n, ok := bucketCounts[pt]
	if !ok {
		return nil, fmt.Errorf("invalid period_type %q", pt)
	}
	anchor = CivilDate(anchor)

	out := make([]Bucket, n)
	for i := 0; i < n; i++ {
		back := n - 1 - i
		var d time.Time
		switch pt {
		case PeriodDay:
			d = anchor.AddDate(0, 0, -back)
		case PeriodWeek:
			d = anchor.AddDate(0, 0, -7*back)
		case PeriodMonth:
			d = AddMonthsClamped(anchor, -back)
		case PeriodYear:
			d = AddMonthsClamped(anchor, -12*back)
		}
		out[i] = Bucket{Date: d, ISO: ToISODate(d), Label: Label(d, pt)}
	}
	return out, nil
}

// AddMonthsClamped moves d by n calendar months. When the day does not exist
// in the target month it clamps to that month's last day instead of rolling
// over, so Mar 31 minus one month is Feb 29 (or 28), never Mar 2.
func AddMonthsClamped(d time.Time, n int) time.Time {
	total := int(d.Month()) - 1 + n
	year := d.Year() + floorDiv(total, 12)
	month := time.Month(floorMod(total, 12) + 1)

	day := d.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

// Label formats a bucket date for display.
//
//	day   -> 03/31
//	week  -> Tuần 13/2024 (ISO-8601 week and week-year)
//	month -> Mar 2024
//	year  -> 2024
//
// Week numbers come from time.ISOWeek, not from counting days since Jan 1
// offset by its weekday. That count puts 2024-01-07 in week 2 and 2024-12-30
// in week 53/2024, where ISO-8601 gives 1/2024 and 1/2025. The year shown is
// the ISO week-year, which differs from the calendar year for dates near
// New Year.
func Label(d time.Time, pt PeriodType) string {
	switch pt {
	case PeriodDay:
		return fmt.Sprintf("%02d/%02d", int(d.Month()), d.Day())
	case PeriodWeek:
		year, week := d.ISOWeek()
		return fmt.Sprintf("Tuần %d/%d", week, year)
	case PeriodMonth:
		return d.Format("Jan 2006")
	case PeriodYear:
		return fmt.Sprintf("%04d", d.Year())
	}
	return ToISODate(d)
}

// ToISODate renders YYYY-MM-DD from the calendar fields of d. It never
// converts to UTC first, so a late-evening local time keeps its own day.
func ToISODate(d time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), int(d.Month()), d.Day())
}

// ParseISODate is the inverse of ToISODate.
func ParseISODate(s string) (time.Time, error) {
	t, err := time.Parse(isoDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// ComparisonAnchor returns the anchor of the previous equivalent period:
// 7 days back for day and week series, one month for month, one year for year.
func ComparisonAnchor(pt PeriodType, anchor time.Time) time.Time {
	anchor = CivilDate(anchor)
	switch pt {
	case PeriodMonth:
		return AddMonthsClamped(anchor, -1)
	case PeriodYear:
		return AddMonthsClamped(anchor, -12)
	default:
		return anchor.AddDate(0, 0, -7)
	}
}

// Compare returns the current bucket set and the one for the previous
// equivalent period.
func Compare(pt PeriodType, anchor time.Time) (current, previous []Bucket, err error) {
	current, err = Buckets(pt, anchor)
	if err != nil {
		return nil, nil, err
	}
	previous, err = Buckets(pt, ComparisonAnchor(pt, anchor))
	if err != nil {
		return nil, nil, err
	}
	return current, previous, nil
}

// BucketRange is the half-open [Start, End) span a bucket aggregates.
type BucketRange struct {
	Start time.Time
	End   time.Time
}

// RangeOf returns the aggregation span of the bucket dated d: the day itself,
// the 7 days ending on d, the calendar month of d, or the calendar year of d.
func RangeOf(pt PeriodType, d time.Time) BucketRange {
	d = CivilDate(d)
	switch pt {
	case PeriodWeek:
		return BucketRange{Start: d.AddDate(0, 0, -6), End: d.AddDate(0, 0, 1)}
	case PeriodMonth:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return BucketRange{Start: start, End: start.AddDate(0, 1, 0)}
	case PeriodYear:
		start := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return BucketRange{Start: start, End: start.AddDate(1, 0, 0)}
	default:
		return BucketRange{Start: d, End: d.AddDate(0, 0, 1)}
	}
}

// Point is a bucket paired with its aggregated value.
type Point struct {
	Date  string  `json:"date"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Zip pairs buckets and values by position.
func Zip(buckets []Bucket, values []float64) ([]Point, error) {
	if len(buckets) != len(values) {
		return nil, fmt.Errorf("series length %d does not match %d buckets", len(values), len(buckets))
	}
	out := make([]Point, len(buckets))
	for i, b := range buckets {
		out[i] = Point{Date: b.ISO, Label: b.Label, Value: values[i]}
	}
	return out, nil
}
