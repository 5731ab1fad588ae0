package telemetry

import (
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/kestrelnet/tracker/track"
)

// InfluxRecorder is a Recorder that mirrors every lifecycle event and
// counter increment as a point on an InfluxDB async write API,
// grounded on metrics/influxdb/influxdb2.go's client-per-recorder,
// drain-the-errors-channel-in-a-goroutine shape.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string
	logger   *slog.Logger

	stale      countingField
	badInput   countingField
	degenerate countingField

	wait sync.WaitGroup
}

type countingField struct {
	mu    sync.Mutex
	count uint64
}

func (c *countingField) inc() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

// NewInfluxRecorder opens a client against url/token and starts
// draining its async write-error channel, matching
// influxdb2.NewClientWithOptions + writeAPI.Errors() in
// metrics/influxdb/influxdb2.go. Close must be called to flush
// buffered points and release the client.
func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(url, token, opts)
	writeAPI := client.WriteAPI(org, bucket)

	r := &InfluxRecorder{
		client:   client,
		writeAPI: writeAPI,
		org:      org,
		bucket:   bucket,
		logger:   slog.Default().With("component", "telemetry.influx"),
	}

	errorsCh := writeAPI.Errors()
	r.wait.Add(1)
	go func() {
		defer r.wait.Done()
		for err := range errorsCh {
			if err != nil {
				r.logger.Error("influx write error", "error", err)
			}
		}
	}()

	return r
}

// Close flushes buffered points, closes the client and waits for the
// error-draining goroutine to exit.
func (r *InfluxRecorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
	r.wait.Wait()
}

func (r *InfluxRecorder) writeEvent(measurement string, id track.ID, fields map[string]interface{}) {
	p := influxdb2.NewPointWithMeasurement(measurement).
		SetTime(time.Now()).
		AddTag("track_id", id.String())
	for k, v := range fields {
		p.AddField(k, v)
	}
	r.writeAPI.WritePoint(p)
}

func (r *InfluxRecorder) StaleMeasurement(id track.ID) {
	r.writeEvent("stale_measurement", id, map[string]interface{}{"count": r.stale.inc()})
}

func (r *InfluxRecorder) BadInput(stage string, err error) {
	n := r.badInput.inc()
	p := influxdb2.NewPointWithMeasurement("bad_input").
		SetTime(time.Now()).
		AddTag("stage", stage).
		AddField("count", n).
		AddField("error", err.Error())
	r.writeAPI.WritePoint(p)
}

func (r *InfluxRecorder) FilterDegenerate(id track.ID) {
	r.writeEvent("filter_degenerate", id, map[string]interface{}{"count": r.degenerate.inc()})
}

func (r *InfluxRecorder) Birth(id track.ID) {
	r.writeEvent("track_birth", id, map[string]interface{}{"value": 1})
}

func (r *InfluxRecorder) Refresh(id track.ID) {
	r.writeEvent("track_refresh", id, map[string]interface{}{"value": 1})
}

func (r *InfluxRecorder) Expire(id track.ID) {
	r.writeEvent("track_expire", id, map[string]interface{}{"value": 1})
}
