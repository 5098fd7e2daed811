package ops

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/task"
)

const metricsNamespace = "zrtos"

// Collector exports kernel and task state as Prometheus metrics.
//
// Values are read on every scrape; nothing is cached.
type Collector struct {
	k kernel.Inspector
	g *task.Group

	heapSize          *prometheus.Desc
	heapFree          *prometheus.Desc
	kernelTasks       *prometheus.Desc
	created           *prometheus.Desc
	deleted           *prometheus.Desc
	admissionFailures *prometheus.Desc
	watchdogTrips     *prometheus.Desc

	taskYields   *prometheus.Desc
	taskTrips    *prometheus.Desc
	taskLoops    *prometheus.Desc
	taskState    *prometheus.Desc
	taskPriority *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector. Either k or g may be nil, in which case the
// corresponding metrics are omitted.
func NewCollector(k kernel.Inspector, g *task.Group) *Collector {
	desc := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, sub, name), help, labels, nil)
	}
	return &Collector{
		k: k,
		g: g,

		heapSize:          desc("kernel", "heap_size_bytes", "Kernel heap size.", "boot_id"),
		heapFree:          desc("kernel", "heap_free_bytes", "Kernel heap not used by task stacks and control blocks.", "boot_id"),
		kernelTasks:       desc("kernel", "tasks", "Live kernel tasks.", "boot_id"),
		created:           desc("kernel", "tasks_created_total", "Tasks admitted by the kernel.", "boot_id"),
		deleted:           desc("kernel", "tasks_deleted_total", "Tasks removed from the kernel.", "boot_id"),
		admissionFailures: desc("kernel", "admission_failures_total", "Task creations rejected by the kernel.", "boot_id"),
		watchdogTrips:     desc("kernel", "watchdog_trips_total", "Task watchdog trips.", "boot_id"),

		taskYields:   desc("kernel_task", "yields_total", "Delay calls made by a kernel task.", "task", "handle", "core"),
		taskTrips:    desc("kernel_task", "watchdog_trips_total", "Watchdog trips of a kernel task.", "task", "handle", "core"),
		taskLoops:    desc("task", "loops_total", "Completed Loop iterations.", "task"),
		taskState:    desc("task", "state", "1 for the current lifecycle state of a task.", "task", "state"),
		taskPriority: desc("task", "priority", "Configured task priority without the privilege bit.", "task"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.heapSize, c.heapFree, c.kernelTasks, c.created, c.deleted, c.admissionFailures, c.watchdogTrips,
		c.taskYields, c.taskTrips, c.taskLoops, c.taskState, c.taskPriority,
	} {
		ch <- d
	}
}

var taskStates = []task.State{task.StateUnstarted, task.StateRunning, task.StateFaulted, task.StateDeleted}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.k != nil {
		s := c.k.Stats()
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.BootID)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.BootID)
		}
		gauge(c.heapSize, float64(s.HeapSize))
		gauge(c.heapFree, float64(s.HeapFree))
		gauge(c.kernelTasks, float64(s.Tasks))
		counter(c.created, s.Created)
		counter(c.deleted, s.Deleted)
		counter(c.admissionFailures, s.AdmissionFailures)
		counter(c.watchdogTrips, s.WatchdogTrips)

		for _, ti := range c.k.Tasks() {
			h, core := strconv.FormatUint(uint64(ti.Handle), 10), ti.Affinity.String()
			ch <- prometheus.MustNewConstMetric(c.taskYields, prometheus.CounterValue, float64(ti.Yields), ti.Name, h, core)
			ch <- prometheus.MustNewConstMetric(c.taskTrips, prometheus.CounterValue, float64(ti.WatchdogTrips), ti.Name, h, core)
		}
	}

	if c.g != nil {
		for _, st := range c.g.Snapshot().Tasks {
			ch <- prometheus.MustNewConstMetric(c.taskLoops, prometheus.CounterValue, float64(st.Loops), st.Name)
			ch <- prometheus.MustNewConstMetric(c.taskPriority, prometheus.GaugeValue, float64(st.Priority.Level()), st.Name)
			for _, s := range taskStates {
				v := 0.0
				if st.State == s {
					v = 1
				}
				ch <- prometheus.MustNewConstMetric(c.taskState, prometheus.GaugeValue, v, st.Name, s.String())
			}
		}
	}
}
