package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/models"
)

// maxRanges is the most ranges reported for one match.
const maxRanges = 10

// FilterValidRanges drops ranges that cover a single line.
func FilterValidRanges(ranges []models.Range) []models.Range {
	var valid []models.Range
	for _, r := range ranges {
		if r.To > r.From {
			valid = append(valid, r)
		}
	}
	return valid
}

// MergeRanges joins ranges that overlap or are at most tolerance lines
// apart. The tolerance doubles until no more than maxRanges remain.
func MergeRanges(ranges []models.Range, tolerance int) []models.Range {
	if len(ranges) == 0 {
		return ranges
	}
	tol := max(tolerance, 0)
	for {
		merged := mergeWithTolerance(ranges, tol)
		logrus.Debugf("MergeRanges: tolerance=%d ranges=%d", tol, len(merged))
		if len(merged) <= maxRanges || len(merged) == 1 {
			return merged
		}
		tol = max(tol*2, 1)
	}
}

func mergeWithTolerance(ranges []models.Range, tolerance int) []models.Range {
	sorted := make([]models.Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	merged := []models.Range{sorted[0]}
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if cur.From <= last.To+tolerance+1 {
			if cur.To > last.To {
				last.To = cur.To
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// FormatRanges renders ranges as "15-45,120-135" for the scanned file and
// for the matched KB file.
func FormatRanges(ranges []models.Range) (target, oss string) {
	parts := make([]string, 0, len(ranges))
	ossParts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, fmt.Sprintf("%d-%d", r.From, r.To))
		ossParts = append(ossParts, fmt.Sprintf("%d-%d", r.Oss, r.Oss+r.To-r.From))
	}
	return strings.Join(parts, ","), strings.Join(ossParts, ",")
}
