// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package cloudwatch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/core"
)

const xmlns = "http://monitoring.amazonaws.com/doc/2010-08-01/"

// Service exposes the CloudWatch backend over the AWS query protocol.
type Service struct {
	registry *backends.Registry[*Backend]
}

// New returns the CloudWatch service with empty state.
func New() *Service {
	return &Service{registry: backends.NewRegistry(NewBackend)}
}

// Name returns the service id used in credential scopes.
func (s *Service) Name() string {
	return "monitoring"
}

// Reset drops all CloudWatch state.
func (s *Service) Reset() {
	s.registry.Reset()
}

// Backend returns the backend for an account and region.
func (s *Service) Backend(accountID, region string) *Backend {
	return s.registry.Get(accountID, region)
}

// Handle serves one query-protocol request.
func (s *Service) Handle(w http.ResponseWriter, req *http.Request, scope core.Scope) {
	params, err := core.ParseRequest(req)
	if err != nil {
		core.WriteError(w, core.ValidationError("%s", err))
		return
	}

	backend := s.Backend(scope.AccountID, scope.Region)
	action := params.Action()

	result, err := s.dispatch(backend, action, params)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	core.WriteResponse(w, action, xmlns, result)
}

func (s *Service) dispatch(backend *Backend, action string, params core.Params) (any, error) {
	switch action {
	case "PutMetricData":
		data, err := metricDataFromParams(params)
		if err != nil {
			return nil, err
		}
		return nil, backend.PutMetricData(params.Get("Namespace"), data)
	case "ListMetrics":
		metrics, next, err := backend.ListMetrics(
			params.Get("Namespace"),
			params.Get("MetricName"),
			dimensionsFromParams(params, "Dimensions"),
			params.Get("NextToken"),
		)
		if err != nil {
			return nil, err
		}
		return listMetricsResult{Metrics: metricsXML(metrics), NextToken: next}, nil
	case "GetMetricStatistics":
		return s.getMetricStatistics(backend, params)
	case "GetMetricData":
		return s.getMetricData(backend, params)
	case "PutMetricAlarm":
		alarm, err := alarmFromParams(params)
		if err != nil {
			return nil, err
		}
		return nil, backend.PutMetricAlarm(alarm)
	case "DescribeAlarms":
		alarms := backend.DescribeAlarms(DescribeAlarmsInput{
			AlarmNames:      params.List("AlarmNames"),
			AlarmNamePrefix: params.Get("AlarmNamePrefix"),
			ActionPrefix:    params.Get("ActionPrefix"),
			StateValue:      params.Get("StateValue"),
		})
		return describeAlarmsResult{MetricAlarms: alarmsXML(alarms)}, nil
	case "DeleteAlarms":
		backend.DeleteAlarms(params.List("AlarmNames"))
		return nil, nil
	case "SetAlarmState":
		return nil, backend.SetAlarmState(
			params.Get("AlarmName"),
			params.Get("StateValue"),
			params.Get("StateReason"),
			params.Get("StateReasonData"),
		)
	case "PutDashboard":
		if err := backend.PutDashboard(params.Get("DashboardName"), params.Get("DashboardBody")); err != nil {
			return nil, err
		}
		return putDashboardResult{}, nil
	case "GetDashboard":
		dashboard, err := backend.GetDashboard(params.Get("DashboardName"))
		if err != nil {
			return nil, err
		}
		return getDashboardResult{
			DashboardName: dashboard.Name,
			DashboardBody: dashboard.Body,
			DashboardArn:  dashboard.Name,
		}, nil
	case "ListDashboards":
		dashboards := backend.ListDashboards(params.Get("DashboardNamePrefix"))
		return listDashboardsResult{DashboardEntries: dashboardsXML(dashboards)}, nil
	case "DeleteDashboards":
		return nil, backend.DeleteDashboards(params.List("DashboardNames"))
	default:
		return nil, core.NewError("InvalidAction", "The action %s is not valid for this web service.", action)
	}
}

func (s *Service) getMetricStatistics(backend *Backend, params core.Params) (any, error) {
	start, err := timeParam(params, "StartTime")
	if err != nil {
		return nil, err
	}
	end, err := timeParam(params, "EndTime")
	if err != nil {
		return nil, err
	}
	period, err := params.Int("Period", 60)
	if err != nil {
		return nil, err
	}

	points, err := backend.GetMetricStatistics(
		params.Get("Namespace"),
		params.Get("MetricName"),
		start, end, period,
		params.Get("Unit"),
		dimensionsFromParams(params, "Dimensions"),
	)
	if err != nil {
		return nil, err
	}

	stats := params.List("Statistics")
	return getMetricStatisticsResult{
		Label:      params.Get("MetricName"),
		Datapoints: datapointsXML(points, stats),
	}, nil
}

func (s *Service) getMetricData(backend *Backend, params core.Params) (any, error) {
	start, err := timeParam(params, "StartTime")
	if err != nil {
		return nil, err
	}
	end, err := timeParam(params, "EndTime")
	if err != nil {
		return nil, err
	}

	var queries []MetricDataQuery
	for _, elem := range params.IndexedPrefixes("MetricDataQueries") {
		period, err := params.Int(elem+".MetricStat.Period", 60)
		if err != nil {
			return nil, err
		}
		queries = append(queries, MetricDataQuery{
			ID: params.Get(elem + ".Id"),
			Metric: Metric{
				Namespace:  params.Get(elem + ".MetricStat.Metric.Namespace"),
				Name:       params.Get(elem + ".MetricStat.Metric.MetricName"),
				Dimensions: dimensionsFromParams(params, elem+".MetricStat.Metric.Dimensions"),
			},
			Period: period,
			Stat:   params.Get(elem + ".MetricStat.Stat"),
			Unit:   params.Get(elem + ".MetricStat.Unit"),
		})
	}

	results, err := backend.GetMetricData(queries, start, end, params.Get("ScanBy"))
	if err != nil {
		return nil, err
	}

	ret := getMetricDataResult{}
	for _, r := range results {
		entry := metricDataResultXML{
			Id:         r.ID,
			Label:      r.Label,
			StatusCode: "Complete",
			Values:     r.Values,
		}
		for _, ts := range r.Timestamps {
			entry.Timestamps = append(entry.Timestamps, ts.Format(time.RFC3339))
		}
		ret.MetricDataResults = append(ret.MetricDataResults, entry)
	}
	return ret, nil
}

func metricDataFromParams(params core.Params) ([]Datum, error) {
	var data []Datum
	for _, elem := range params.IndexedPrefixes("MetricData") {
		datum := Datum{
			Metric: Metric{
				Name:       params.Get(elem + ".MetricName"),
				Dimensions: dimensionsFromParams(params, elem+".Dimensions"),
			},
			Unit: params.Get(elem + ".Unit"),
		}
		ts, err := timeParam(params, elem+".Timestamp")
		if err != nil {
			return nil, err
		}
		datum.Timestamp = ts

		values := params.List(elem + ".Values")
		if len(values) == 0 {
			value, err := params.Float(elem+".Value", 0)
			if err != nil {
				return nil, err
			}
			datum.Value = value
			data = append(data, datum)
			continue
		}

		// Values/Counts expand into one datum per occurrence. A
		// missing count defaults to one.
		counts := params.List(elem + ".Counts")
		for i := range values {
			value, err := params.Float(fmt.Sprintf("%s.Values.member.%d", elem, i+1), 0)
			if err != nil {
				return nil, err
			}
			count := 1
			if i < len(counts) {
				count, err = params.Int(fmt.Sprintf("%s.Counts.member.%d", elem, i+1), 1)
				if err != nil {
					return nil, err
				}
			}
			for n := 0; n < count; n++ {
				d := datum
				d.Value = value
				data = append(data, d)
			}
		}
	}
	return data, nil
}

func alarmFromParams(params core.Params) (Alarm, error) {
	threshold, err := params.Float("Threshold", 0)
	if err != nil {
		return Alarm{}, err
	}
	period, err := params.Int("Period", 0)
	if err != nil {
		return Alarm{}, err
	}
	evalPeriods, err := params.Int("EvaluationPeriods", 0)
	if err != nil {
		return Alarm{}, err
	}

	return Alarm{
		Name:                    params.Get("AlarmName"),
		Description:             params.Get("AlarmDescription"),
		Namespace:               params.Get("Namespace"),
		MetricName:              params.Get("MetricName"),
		Statistic:               params.Get("Statistic"),
		ComparisonOperator:      params.Get("ComparisonOperator"),
		Threshold:               threshold,
		Period:                  period,
		EvaluationPeriods:       evalPeriods,
		Unit:                    params.Get("Unit"),
		ActionsEnabled:          params.Bool("ActionsEnabled", true),
		AlarmActions:            params.List("AlarmActions"),
		OKActions:               params.List("OKActions"),
		InsufficientDataActions: params.List("InsufficientDataActions"),
		Dimensions:              dimensionsFromParams(params, "Dimensions"),
	}, nil
}

func dimensionsFromParams(params core.Params, prefix string) []Dimension {
	var dims []Dimension
	for _, elem := range params.IndexedPrefixes(prefix) {
		dims = append(dims, Dimension{
			Name:  params.Get(elem + ".Name"),
			Value: params.Get(elem + ".Value"),
		})
	}
	return dims
}

func timeParam(params core.Params, name string) (time.Time, error) {
	raw := params.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, core.ValidationError("Value %q at %q failed to satisfy constraint: Member must be an ISO 8601 timestamp", raw, name)
	}
	return ts, nil
}

type dimensionXML struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

type metricXML struct {
	Namespace  string         `xml:"Namespace"`
	MetricName string         `xml:"MetricName"`
	Dimensions []dimensionXML `xml:"Dimensions>member"`
}

func metricsXML(metrics []Metric) []metricXML {
	ret := make([]metricXML, 0, len(metrics))
	for _, m := range metrics {
		entry := metricXML{Namespace: m.Namespace, MetricName: m.Name}
		for _, d := range m.Dimensions {
			entry.Dimensions = append(entry.Dimensions, dimensionXML(d))
		}
		ret = append(ret, entry)
	}
	return ret
}

type listMetricsResult struct {
	Metrics   []metricXML `xml:"Metrics>member"`
	NextToken string      `xml:"NextToken,omitempty"`
}

type datapointXML struct {
	Timestamp   string   `xml:"Timestamp"`
	SampleCount *float64 `xml:"SampleCount,omitempty"`
	Sum         *float64 `xml:"Sum,omitempty"`
	Minimum     *float64 `xml:"Minimum,omitempty"`
	Maximum     *float64 `xml:"Maximum,omitempty"`
	Average     *float64 `xml:"Average,omitempty"`
	Unit        string   `xml:"Unit,omitempty"`
}

// datapointsXML renders only the statistics the caller asked for, like
// the real service. An empty request renders all of them.
func datapointsXML(points []Datapoint, stats []string) []datapointXML {
	want := func(stat string) bool {
		if len(stats) == 0 {
			return true
		}
		for _, s := range stats {
			if s == stat {
				return true
			}
		}
		return false
	}

	ret := make([]datapointXML, 0, len(points))
	for _, p := range points {
		entry := datapointXML{
			Timestamp: p.Timestamp.Format(time.RFC3339),
			Unit:      p.Unit,
		}
		if want("SampleCount") {
			entry.SampleCount = &p.SampleCount
		}
		if want("Sum") {
			entry.Sum = &p.Sum
		}
		if want("Minimum") {
			entry.Minimum = &p.Minimum
		}
		if want("Maximum") {
			entry.Maximum = &p.Maximum
		}
		if want("Average") {
			entry.Average = &p.Average
		}
		ret = append(ret, entry)
	}
	return ret
}

type getMetricStatisticsResult struct {
	Label      string         `xml:"Label"`
	Datapoints []datapointXML `xml:"Datapoints>member"`
}

type metricDataResultXML struct {
	Id         string    `xml:"Id"`
	Label      string    `xml:"Label"`
	StatusCode string    `xml:"StatusCode"`
	Timestamps []string  `xml:"Timestamps>member"`
	Values     []float64 `xml:"Values>member"`
}

type getMetricDataResult struct {
	MetricDataResults []metricDataResultXML `xml:"MetricDataResults>member"`
}

type alarmXML struct {
	AlarmName                          string         `xml:"AlarmName"`
	AlarmArn                           string         `xml:"AlarmArn"`
	AlarmDescription                   string         `xml:"AlarmDescription,omitempty"`
	AlarmConfigurationUpdatedTimestamp string         `xml:"AlarmConfigurationUpdatedTimestamp"`
	ActionsEnabled                     bool           `xml:"ActionsEnabled"`
	AlarmActions                       []string       `xml:"AlarmActions>member"`
	OKActions                          []string       `xml:"OKActions>member"`
	InsufficientDataActions            []string       `xml:"InsufficientDataActions>member"`
	StateValue                         string         `xml:"StateValue"`
	StateReason                        string         `xml:"StateReason,omitempty"`
	StateReasonData                    string         `xml:"StateReasonData,omitempty"`
	StateUpdatedTimestamp              string         `xml:"StateUpdatedTimestamp"`
	MetricName                         string         `xml:"MetricName"`
	Namespace                          string         `xml:"Namespace"`
	Statistic                          string         `xml:"Statistic"`
	Dimensions                         []dimensionXML `xml:"Dimensions>member"`
	Period                             int            `xml:"Period"`
	Unit                               string         `xml:"Unit,omitempty"`
	EvaluationPeriods                  int            `xml:"EvaluationPeriods"`
	Threshold                          float64        `xml:"Threshold"`
	ComparisonOperator                 string         `xml:"ComparisonOperator"`
}

func alarmsXML(alarms []Alarm) []alarmXML {
	ret := make([]alarmXML, 0, len(alarms))
	for _, a := range alarms {
		entry := alarmXML{
			AlarmName:                          a.Name,
			AlarmArn:                           a.ARN,
			AlarmDescription:                   a.Description,
			AlarmConfigurationUpdatedTimestamp: a.ConfigurationUpdated.Format(time.RFC3339),
			ActionsEnabled:                     a.ActionsEnabled,
			AlarmActions:                       a.AlarmActions,
			OKActions:                          a.OKActions,
			InsufficientDataActions:            a.InsufficientDataActions,
			StateValue:                         a.StateValue,
			StateReason:                        a.StateReason,
			StateReasonData:                    a.StateReasonData,
			StateUpdatedTimestamp:              a.StateUpdated.Format(time.RFC3339),
			MetricName:                         a.MetricName,
			Namespace:                          a.Namespace,
			Statistic:                          a.Statistic,
			Period:                             a.Period,
			Unit:                               a.Unit,
			EvaluationPeriods:                  a.EvaluationPeriods,
			Threshold:                          a.Threshold,
			ComparisonOperator:                 a.ComparisonOperator,
		}
		for _, d := range a.Dimensions {
			entry.Dimensions = append(entry.Dimensions, dimensionXML(d))
		}
		ret = append(ret, entry)
	}
	return ret
}

type describeAlarmsResult struct {
	MetricAlarms []alarmXML `xml:"MetricAlarms>member"`
}

type putDashboardResult struct {
	DashboardValidationMessages []string `xml:"DashboardValidationMessages>member"`
}

type getDashboardResult struct {
	DashboardArn  string `xml:"DashboardArn"`
	DashboardBody string `xml:"DashboardBody"`
	DashboardName string `xml:"DashboardName"`
}

type listDashboardsResult struct {
	DashboardEntries []dashboardEntryXML `xml:"DashboardEntries>member"`
}

type dashboardEntryXML struct {
	DashboardName string `xml:"DashboardName"`
	DashboardArn  string `xml:"DashboardArn"`
	LastModified  string `xml:"LastModified"`
	Size          int    `xml:"Size"`
}

func dashboardsXML(dashboards []Dashboard) []dashboardEntryXML {
	ret := make([]dashboardEntryXML, 0, len(dashboards))
	for _, d := range dashboards {
		ret = append(ret, dashboardEntryXML{
			DashboardName: d.Name,
			DashboardArn:  d.Name,
			LastModified:  d.LastModified.Format(time.RFC3339),
			Size:          d.Size(),
		})
	}
	return ret
}
