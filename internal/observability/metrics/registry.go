package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	kindCounter   = "counter"
	kindHistogram = "histogram"
)

// defaultBuckets 覆盖从毫秒级 HTTP 请求到 20 秒回合截止时间的区间。
var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}

// Registry 保存一组指标族，并以 Prometheus 文本格式输出。
type Registry struct {
	mu       sync.Mutex
	families []*family
}

type family struct {
	name    string
	help    string
	kind    string
	labels  []string
	buckets []float64
	series  map[string]*series
}

type series struct {
	values []string
	count  uint64
	hist   *histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewRegistry 创建空的指标注册表。
func NewRegistry() *Registry {
	return &Registry{}
}

// CounterVec 是带标签的计数器。
type CounterVec struct {
	reg *Registry
	fam *family
}

// HistogramVec 是带标签的直方图。
type HistogramVec struct {
	reg *Registry
	fam *family
}

// Counter 注册一个计数器族。
func (r *Registry) Counter(name, help string, labels ...string) *CounterVec {
	return &CounterVec{reg: r, fam: r.register(name, help, kindCounter, nil, labels)}
}

// Histogram 注册一个直方图族，buckets 为空时使用默认分桶。
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *HistogramVec {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	return &HistogramVec{reg: r, fam: r.register(name, help, kindHistogram, buckets, labels)}
}

func (r *Registry) register(name, help, kind string, buckets []float64, labels []string) *family {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.families {
		if f.name == name {
			panic(fmt.Sprintf("metrics: %s registered twice", name))
		}
	}
	f := &family{
		name:    name,
		help:    help,
		kind:    kind,
		labels:  labels,
		buckets: append([]float64(nil), buckets...),
		series:  make(map[string]*series),
	}
	r.families = append(r.families, f)
	return f
}

// Inc 为指定标签值的序列加一。
func (c *CounterVec) Inc(values ...string) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.fam.get(values).count++
}

// Observe 记录一次观测值。
func (h *HistogramVec) Observe(value float64, values ...string) {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	h.fam.get(values).hist.observe(value)
}

func (f *family) get(values []string) *series {
	if len(values) != len(f.labels) {
		panic(fmt.Sprintf("metrics: %s expects %d label values, got %d", f.name, len(f.labels), len(values)))
	}
	key := strings.Join(values, "\xff")
	s, ok := f.series[key]
	if !ok {
		s = &series{values: append([]string(nil), values...)}
		if f.kind == kindHistogram {
			s.hist = newHistogramWith(f.buckets)
		}
		f.series[key] = s
	}
	return s
}

// WriteTo 按注册顺序输出所有指标族，同一族内按标签值排序。
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	var b strings.Builder
	for _, f := range r.families {
		f.render(&b)
	}
	r.mu.Unlock()
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Handler 以 Prometheus 文本格式暴露注册表。
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = r.WriteTo(w)
	})
}

func (f *family) render(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

	list := make([]*series, 0, len(f.series))
	for _, s := range f.series {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		for k := range list[i].values {
			if list[i].values[k] != list[j].values[k] {
				return list[i].values[k] < list[j].values[k]
			}
		}
		return false
	})

	for _, s := range list {
		labels := f.labelPairs(s.values)
		if f.kind == kindCounter {
			fmt.Fprintf(b, "%s%s %d\n", f.name, braces(labels), s.count)
			continue
		}
		h := s.hist
		for idx, bound := range h.buckets {
			fmt.Fprintf(b, "%s_bucket%s %d\n", f.name, braces(join(labels, `le="`+formatFloat(bound)+`"`)), h.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket%s %d\n", f.name, braces(join(labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(b, "%s_sum%s %s\n", f.name, braces(labels), formatFloat(h.sum))
		fmt.Fprintf(b, "%s_count%s %d\n", f.name, braces(labels), h.count)
	}
}

func (f *family) labelPairs(values []string) string {
	pairs := make([]string, len(values))
	for i, v := range values {
		pairs[i] = fmt.Sprintf(`%s="%s"`, f.labels[i], escape(v))
	}
	return strings.Join(pairs, ",")
}

func join(labels, extra string) string {
	if labels == "" {
		return extra
	}
	return labels + "," + extra
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func newHistogram() *histogram {
	return newHistogramWith(defaultBuckets)
}

func newHistogramWith(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 累计所有不小于观测值的桶，超过最后一个桶的值只计入 +Inf。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
