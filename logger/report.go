package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type feedStat struct {
	batches int64
	rows    int64
}

var (
	errorsFeed     int64
	errorsOrder    int64
	warnsFeed      int64
	warnsOrder     int64
	fetches        int64
	fetchedRows    int64
	mergedRows     int64
	triggerWakes   int64
	ordersPlaced   int64
	ordersCanceled int64
	feeds          sync.Map // map[string]*feedStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "store") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "order") {
		atomic.AddInt64(&warnsOrder, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "store") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "order") {
		atomic.AddInt64(&errorsOrder, 1)
	}
}

func IncrementFetch(rows int) {
	atomic.AddInt64(&fetches, 1)
	atomic.AddInt64(&fetchedRows, int64(rows))
}

func IncrementMerge(rows int) {
	atomic.AddInt64(&mergedRows, int64(rows))
}

func IncrementTriggerWake() {
	atomic.AddInt64(&triggerWakes, 1)
}

func IncrementOrderPlaced() {
	atomic.AddInt64(&ordersPlaced, 1)
}

func IncrementOrderCanceled() {
	atomic.AddInt64(&ordersCanceled, 1)
}

// RecordFeedRows tracks per-feed merge volume for the periodic report.
func RecordFeedRows(name string, rows int) {
	v, _ := feeds.LoadOrStore(name, &feedStat{})
	fs := v.(*feedStat)
	atomic.AddInt64(&fs.batches, 1)
	atomic.AddInt64(&fs.rows, int64(rows))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and feed statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	feedData := map[string]map[string]int64{}
	feeds.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*feedStat)
		feedData[name] = map[string]int64{
			"batches": atomic.LoadInt64(&fs.batches),
			"rows":    atomic.LoadInt64(&fs.rows),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_order":    atomic.LoadInt64(&errorsOrder),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_order":     atomic.LoadInt64(&warnsOrder),
		"fetches":         atomic.LoadInt64(&fetches),
		"fetched_rows":    atomic.LoadInt64(&fetchedRows),
		"merged_rows":     atomic.LoadInt64(&mergedRows),
		"trigger_wakes":   atomic.LoadInt64(&triggerWakes),
		"orders_placed":   atomic.LoadInt64(&ordersPlaced),
		"orders_canceled": atomic.LoadInt64(&ordersCanceled),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"feeds":           feedData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-ErrorsOrder"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_order"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-WarnsOrder"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_order"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-FeedFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-MergedRows"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["merged_rows"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-TriggerWakes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["trigger_wakes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_placed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-OrdersCanceled"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_canceled"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("MaFin-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range feedData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("MaFin-FeedBatches"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["batches"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("MaFin-FeedRows"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["rows"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
