package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV1"
)

// metricsQuerier is the slice of the Datadog metrics API the adapter uses.
type metricsQuerier interface {
	QueryMetrics(ctx context.Context, from int64, to int64, query string) (datadogV1.MetricsQueryResponse, *http.Response, error)
}

// DatadogAdapter exposes timeseries queries as a catalog tool. Query
// results share the same five-minute cache policy as CloudWatch.
type DatadogAdapter struct {
	api    metricsQuerier
	apiKey string
	appKey string
	site   string
	cache  *MetricCache
	logger *slog.Logger
}

// NewDatadogAdapter builds the adapter for the given site (e.g.
// datadoghq.com, datadoghq.eu).
func NewDatadogAdapter(apiKey, appKey, site string) *DatadogAdapter {
	client := datadog.NewAPIClient(datadog.NewConfiguration())
	return &DatadogAdapter{
		api:    datadogV1.NewMetricsApi(client),
		apiKey: apiKey,
		appKey: appKey,
		site:   site,
		cache:  NewMetricCache(MetricCacheTTL),
		logger: slog.Default().With("component", "datadog-tools"),
	}
}

// NewDatadogAdapterWithAPI is the test constructor.
func NewDatadogAdapterWithAPI(api metricsQuerier) *DatadogAdapter {
	return &DatadogAdapter{
		api:    api,
		cache:  NewMetricCache(MetricCacheTTL),
		logger: slog.Default().With("component", "datadog-tools"),
	}
}

// authContext attaches API keys and the site server variable, the way the
// Datadog client expects credentials.
func (a *DatadogAdapter) authContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: a.apiKey},
		"appKeyAuth": {Key: a.appKey},
	})
	if a.site != "" {
		ctx = context.WithValue(ctx, datadog.ContextServerVariables, map[string]string{
			"site": a.site,
		})
	}
	return ctx
}

// Register adds the Datadog tools to the catalog.
func (a *DatadogAdapter) Register(c *Catalog) {
	c.MustRegister(Descriptor{
		Name:         "dd_query_timeseries",
		Description:  "Run a Datadog timeseries metric query over a lookback window. Results are cached for five minutes.",
		Category:     CategoryRead,
		TargetSystem: "datadog",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"query":   {Type: "string", Description: "Datadog metric query, e.g. avg:kubernetes.cpu.usage.total{cluster:dev}"},
				"minutes": {Type: "integer", Description: "Lookback window in minutes (default 60)"},
			},
			Required: []string{"query"},
		},
	}, a.queryTimeseries)
}

func (a *DatadogAdapter) queryTimeseries(ctx context.Context, args map[string]any) (*Result, error) {
	query := StringArg(args, "query")
	minutes := IntArg(args, "minutes", 60)

	to := time.Now().Truncate(time.Minute)
	from := to.Add(-time.Duration(minutes) * time.Minute)
	key := fmt.Sprintf("dd|%s|%d|%d", query, from.Unix(), to.Unix())

	if content, ok := a.cache.Get(key); ok {
		return &Result{Content: content, CacheHit: true}, nil
	}

	resp, httpResp, err := a.api.QueryMetrics(a.authContext(ctx), from.Unix(), to.Unix(), query)
	if err != nil {
		return nil, classifyDatadogError(httpResp, err)
	}
	if resp.Error != nil {
		return nil, NewValidationError("datadog rejected query: %s", *resp.Error)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d series for %q over last %dm\n", len(resp.Series), query, minutes)
	for _, s := range resp.Series {
		unit := ""
		if len(s.Unit) > 0 && s.Unit[0].Name != nil {
			unit = " " + *s.Unit[0].Name
		}
		fmt.Fprintf(&b, "series %s scope=%s points=%d\n",
			s.GetMetric(), s.GetScope(), len(s.Pointlist))
		for _, p := range s.Pointlist {
			if len(p) < 2 || p[0] == nil || p[1] == nil {
				continue
			}
			ts := time.UnixMilli(int64(*p[0]))
			fmt.Fprintf(&b, "  %s %.4f%s\n", ts.Format(time.RFC3339), *p[1], unit)
		}
	}
	content := b.String()
	a.cache.Set(key, content)
	return TextResult(content), nil
}

func classifyDatadogError(resp *http.Response, err error) *ToolError {
	if err == nil {
		return nil
	}
	if resp != nil {
		return ClassifyHTTPStatus(resp.StatusCode, err.Error())
	}
	return AsToolError(err)
}
