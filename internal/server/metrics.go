package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ayusman/kathakali/internal/metric"
)

type metricsResponse struct {
	Frames    int                       `json:"frames"`
	Summaries map[string]metric.Summary `json:"summaries"`
	Series    map[string][]float64      `json:"series,omitempty"`
}

// handleMetrics handles GET /api/metrics. ?series=mar,har adds the raw
// windows of the named features.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec := s.config.Engine.Metrics()
	resp := metricsResponse{
		Frames:    rec.Frames(),
		Summaries: rec.Summaries(),
	}
	if q := r.URL.Query().Get("series"); q != "" {
		resp.Series = make(map[string][]float64)
		for _, name := range strings.Split(q, ",") {
			resp.Series[name] = rec.Series(name)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMetricsChart handles GET /api/metrics/chart and renders the
// feature windows as an interactive line chart. ?features= picks the
// lines, EAR and MAR by default.
func (s *Server) handleMetricsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	features := []string{metric.LeftEAR, metric.RightEAR, metric.MAR, metric.HAR}
	if q := r.URL.Query().Get("features"); q != "" {
		features = strings.Split(q, ",")
	}

	rec := s.config.Engine.Metrics()
	series := make(map[string][]float64, len(features))
	longest := 0
	for _, name := range features {
		series[name] = rec.Series(name)
		longest = max(longest, len(series[name]))
	}

	x := make([]string, longest)
	for i := range x {
		x[i] = strconv.Itoa(i - longest + 1)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Kathakali Metrics", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Guider Features", Subtitle: fmt.Sprintf("frames=%d window=%d", rec.Frames(), longest)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "value", NameLocation: "middle", NameGap: 35}),
	)
	line.SetXAxis(x)

	for _, name := range features {
		values := series[name]
		// Right-align shorter windows so every line ends at the latest frame.
		data := make([]opts.LineData, longest)
		pad := longest - len(values)
		for i := range data {
			if i < pad {
				data[i] = opts.LineData{Value: "-"}
				continue
			}
			data[i] = opts.LineData{Value: values[i-pad]}
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
