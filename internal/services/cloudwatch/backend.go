// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package cloudwatch simulates the CloudWatch metrics, alarms and
// dashboards APIs. Metric data is held as raw datapoints and
// aggregated at query time, which keeps PutMetricData cheap and makes
// the statistics math easy to follow.
package cloudwatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/localcloud/localcloud/internal/services/core"
)

// ListMetricsPageSize is how many metrics a single ListMetrics page
// carries.
const ListMetricsPageSize = 500

// MaxDatapoints is the most datapoints GetMetricStatistics may return.
const MaxDatapoints = 1440

// Dimension qualifies a metric, such as InstanceId=i-1234.
type Dimension struct {
	Name  string
	Value string
}

// Metric identifies a metric without its data.
type Metric struct {
	Namespace  string
	Name       string
	Dimensions []Dimension
}

// Datum is a single recorded datapoint.
type Datum struct {
	Metric    Metric
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Datapoint is one aggregated bucket returned by GetMetricStatistics.
type Datapoint struct {
	Timestamp   time.Time
	SampleCount float64
	Sum         float64
	Minimum     float64
	Maximum     float64
	Average     float64
	Unit        string
}

// Alarm is a metric alarm.
type Alarm struct {
	Name                    string
	ARN                     string
	Description             string
	Namespace               string
	MetricName              string
	Statistic               string
	ComparisonOperator      string
	Threshold               float64
	Period                  int
	EvaluationPeriods       int
	Unit                    string
	ActionsEnabled          bool
	AlarmActions            []string
	OKActions               []string
	InsufficientDataActions []string
	Dimensions              []Dimension

	StateValue           string
	StateReason          string
	StateReasonData      string
	StateUpdated         time.Time
	ConfigurationUpdated time.Time
}

// Alarm states accepted by SetAlarmState.
var validAlarmStates = []string{"OK", "ALARM", "INSUFFICIENT_DATA"}

// Dashboard is a named dashboard body.
type Dashboard struct {
	Name         string
	Body         string
	LastModified time.Time
}

// Size returns the body size in bytes, which DescribeDashboards
// reports.
func (d Dashboard) Size() int {
	return len(d.Body)
}

// Backend holds all CloudWatch state for one (account, region) pair.
type Backend struct {
	mu sync.Mutex

	accountID string
	region    string

	data       []Datum
	alarms     map[string]*Alarm
	dashboards map[string]Dashboard
}

// NewBackend returns an empty CloudWatch backend.
func NewBackend(accountID, region string) *Backend {
	return &Backend{
		accountID:  accountID,
		region:     region,
		alarms:     make(map[string]*Alarm),
		dashboards: make(map[string]Dashboard),
	}
}

// PutMetricData records datapoints under a namespace.
func (b *Backend) PutMetricData(namespace string, data []Datum) error {
	if namespace == "" {
		return core.ValidationError("The parameter Namespace is required.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	for _, d := range data {
		if d.Metric.Name == "" {
			return core.ValidationError("The parameter MetricData.member.MetricName is required.")
		}
		d.Metric.Namespace = namespace
		if d.Timestamp.IsZero() {
			d.Timestamp = now
		}
		d.Timestamp = d.Timestamp.UTC()
		b.data = append(b.data, d)
	}
	return nil
}

// ListMetrics returns known metrics, deduplicated, filtered and paged.
// nextToken is the stringified offset of the next page; an unparsable
// token is rejected.
func (b *Backend) ListMetrics(namespace, metricName string, dimensions []Dimension, nextToken string) ([]Metric, string, error) {
	offset := 0
	if nextToken != "" {
		var err error
		offset, err = strconv.Atoi(nextToken)
		if err != nil || offset < 0 {
			return nil, "", core.NewError("InvalidParameterValue", "Request parameter NextToken is invalid")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := map[string]struct{}{}
	var metrics []Metric
	for _, d := range b.data {
		m := d.Metric
		if namespace != "" && m.Namespace != namespace {
			continue
		}
		if metricName != "" && m.Name != metricName {
			continue
		}
		if !dimensionsMatch(dimensions, m.Dimensions) {
			continue
		}
		k := metricKey(m)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		metrics = append(metrics, m)
	}

	if offset >= len(metrics) {
		return nil, "", nil
	}
	end := offset + ListMetricsPageSize
	if end >= len(metrics) {
		return metrics[offset:], "", nil
	}
	return metrics[offset:end], strconv.Itoa(end), nil
}

func metricKey(m Metric) string {
	parts := []string{m.Namespace, m.Name}
	dims := append([]Dimension(nil), m.Dimensions...)
	sort.Slice(dims, func(i, j int) bool { return dims[i].Name < dims[j].Name })
	for _, d := range dims {
		parts = append(parts, d.Name+"="+d.Value)
	}
	return strings.Join(parts, "\x1f")
}

// dimensionsMatch reports whether every filter dimension appears in
// the candidate set. A filter with an empty value matches any value of
// that name.
func dimensionsMatch(filter, candidate []Dimension) bool {
	for _, f := range filter {
		found := false
		for _, c := range candidate {
			if c.Name == f.Name && (f.Value == "" || c.Value == f.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetMetricStatistics aggregates datapoints into period-sized buckets
// between start and end. Buckets with no data are omitted, like the
// real service.
func (b *Backend) GetMetricStatistics(namespace, metricName string, start, end time.Time, period int, unit string, dimensions []Dimension) ([]Datapoint, error) {
	if !start.Before(end) {
		return nil, core.NewError("InvalidParameterValue", "The parameter StartTime must be less than the parameter EndTime.")
	}
	if period < 60 || period%60 != 0 {
		return nil, core.NewError("InvalidParameterValue", "Period must be 60 or a multiple of 60.")
	}
	if int(end.Sub(start).Seconds())/period > MaxDatapoints {
		return nil, core.NewError("InvalidParameterCombination",
			"You have requested up to %d datapoints, which exceeds the limit of %d.",
			int(end.Sub(start).Seconds())/period, MaxDatapoints)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buckets := map[int64][]Datum{}
	for _, d := range b.data {
		if d.Metric.Namespace != namespace || d.Metric.Name != metricName {
			continue
		}
		if unit != "" && d.Unit != unit {
			continue
		}
		if !dimensionsMatch(dimensions, d.Metric.Dimensions) {
			continue
		}
		if d.Timestamp.Before(start) || !d.Timestamp.Before(end) {
			continue
		}
		idx := d.Timestamp.Unix() - start.Unix()
		buckets[idx/int64(period)] = append(buckets[idx/int64(period)], d)
	}

	var ret []Datapoint
	for bucket, data := range buckets {
		point := Datapoint{
			Timestamp: start.Add(time.Duration(bucket) * time.Duration(period) * time.Second),
			Unit:      data[0].Unit,
		}
		for i, d := range data {
			point.SampleCount++
			point.Sum += d.Value
			if i == 0 || d.Value < point.Minimum {
				point.Minimum = d.Value
			}
			if i == 0 || d.Value > point.Maximum {
				point.Maximum = d.Value
			}
		}
		point.Average = point.Sum / point.SampleCount
		ret = append(ret, point)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Timestamp.Before(ret[j].Timestamp) })
	return ret, nil
}

// MetricDataQuery is one query of a GetMetricData call. Only metric
// stat queries are supported; math expressions are not.
type MetricDataQuery struct {
	ID     string
	Metric Metric
	Period int
	Stat   string
	Unit   string
}

// MetricDataResult is the series computed for one query.
type MetricDataResult struct {
	ID         string
	Label      string
	Timestamps []time.Time
	Values     []float64
}

// GetMetricData computes one series per query, bucketed by the query
// period, scanned in ascending or descending timestamp order.
func (b *Backend) GetMetricData(queries []MetricDataQuery, start, end time.Time, scanBy string) ([]MetricDataResult, error) {
	if !start.Before(end) {
		return nil, core.NewError("InvalidParameterValue", "The parameter StartTime must be less than the parameter EndTime.")
	}

	ret := make([]MetricDataResult, 0, len(queries))
	for _, q := range queries {
		period := q.Period
		if period == 0 {
			period = 60
		}
		points, err := b.GetMetricStatistics(q.Metric.Namespace, q.Metric.Name, start, end, period, q.Unit, q.Metric.Dimensions)
		if err != nil {
			return nil, err
		}
		if scanBy == "TimestampDescending" {
			for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
				points[i], points[j] = points[j], points[i]
			}
		}

		result := MetricDataResult{
			ID:    q.ID,
			Label: q.Metric.Name + " " + q.Stat,
		}
		for _, p := range points {
			result.Timestamps = append(result.Timestamps, p.Timestamp)
			result.Values = append(result.Values, statValue(p, q.Stat))
		}
		ret = append(ret, result)
	}
	return ret, nil
}

func statValue(p Datapoint, stat string) float64 {
	switch stat {
	case "SampleCount":
		return p.SampleCount
	case "Sum":
		return p.Sum
	case "Minimum":
		return p.Minimum
	case "Maximum":
		return p.Maximum
	default:
		return p.Average
	}
}

// PutMetricAlarm creates or replaces an alarm. New alarms start in
// INSUFFICIENT_DATA.
func (b *Backend) PutMetricAlarm(alarm Alarm) error {
	if alarm.Name == "" {
		return core.ValidationError("The parameter AlarmName is required.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	alarm.ARN = fmt.Sprintf("arn:aws:cloudwatch:%s:%s:alarm:%s", b.region, b.accountID, alarm.Name)
	alarm.ConfigurationUpdated = now
	if existing, ok := b.alarms[alarm.Name]; ok {
		alarm.StateValue = existing.StateValue
		alarm.StateReason = existing.StateReason
		alarm.StateReasonData = existing.StateReasonData
		alarm.StateUpdated = existing.StateUpdated
	} else {
		alarm.StateValue = "INSUFFICIENT_DATA"
		alarm.StateReason = "Unchecked: Initial alarm creation"
		alarm.StateUpdated = now
	}
	b.alarms[alarm.Name] = &alarm
	return nil
}

// DescribeAlarmsInput filters DescribeAlarms.
type DescribeAlarmsInput struct {
	AlarmNames      []string
	AlarmNamePrefix string
	ActionPrefix    string
	StateValue      string
}

// DescribeAlarms returns alarms matching the filters, sorted by name.
func (b *Backend) DescribeAlarms(input DescribeAlarmsInput) []Alarm {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ret []Alarm
	for _, alarm := range b.alarms {
		if len(input.AlarmNames) > 0 && !contains(input.AlarmNames, alarm.Name) {
			continue
		}
		if input.AlarmNamePrefix != "" && !strings.HasPrefix(alarm.Name, input.AlarmNamePrefix) {
			continue
		}
		if input.ActionPrefix != "" && !anyHasPrefix(alarm.AlarmActions, input.ActionPrefix) {
			continue
		}
		if input.StateValue != "" && alarm.StateValue != input.StateValue {
			continue
		}
		ret = append(ret, *alarm)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func anyHasPrefix(list []string, prefix string) bool {
	for _, e := range list {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// DeleteAlarms removes the named alarms. Unknown names are ignored,
// like the real API.
func (b *Backend) DeleteAlarms(names []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		delete(b.alarms, name)
	}
}

// SetAlarmState transitions an alarm into the given state.
func (b *Backend) SetAlarmState(name, state, reason, reasonData string) error {
	if !contains(validAlarmStates, state) {
		return core.ValidationError(
			"1 validation error detected: Value '%s' at 'stateValue' failed to satisfy constraint: Member must satisfy enum value set: [INSUFFICIENT_DATA, ALARM, OK]",
			state)
	}
	if reasonData != "" && !json.Valid([]byte(reasonData)) {
		return core.NewError("InvalidFormat", "StateReasonData is invalid JSON")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	alarm, ok := b.alarms[name]
	if !ok {
		return core.NewNotFoundError("ResourceNotFound", "Unknown alarm: %s", name)
	}
	alarm.StateValue = state
	alarm.StateReason = reason
	alarm.StateReasonData = reasonData
	alarm.StateUpdated = time.Now().UTC()
	return nil
}

// PutDashboard stores a dashboard body.
func (b *Backend) PutDashboard(name, body string) error {
	if !json.Valid([]byte(body)) {
		return core.NewError("InvalidParameterInput",
			"The dashboard body is invalid, there are 1 validation errors: The body is not valid JSON.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dashboards[name] = Dashboard{
		Name:         name,
		Body:         body,
		LastModified: time.Now().UTC(),
	}
	return nil
}

// ListDashboards returns dashboards whose names carry the prefix.
func (b *Backend) ListDashboards(prefix string) []Dashboard {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ret []Dashboard
	for _, d := range b.dashboards {
		if strings.HasPrefix(d.Name, prefix) {
			ret = append(ret, d)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// GetDashboard returns a dashboard by name.
func (b *Backend) GetDashboard(name string) (Dashboard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.dashboards[name]
	if !ok {
		return Dashboard{}, core.NewNotFoundError("ResourceNotFound", "Dashboard %s does not exist", name)
	}
	return d, nil
}

// DeleteDashboards removes the named dashboards. If any name is
// unknown, nothing is deleted.
func (b *Backend) DeleteDashboards(names []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range names {
		if _, ok := b.dashboards[name]; !ok {
			return core.NewNotFoundError("ResourceNotFound", "Dashboard %s does not exist", name)
		}
	}
	for _, name := range names {
		delete(b.dashboards, name)
	}
	return nil
}
