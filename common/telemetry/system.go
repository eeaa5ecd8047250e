package telemetry

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// SystemInfo describes the host the service runs on
type SystemInfo struct {
	Hostname         string
	OS               string
	Arch             string
	GoVersion        string
	CPULogical       int
	InContainer      bool
	ContainerRuntime string
}

// CaptureSystemInfo gathers host details once at startup
func CaptureSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		CPULogical: runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer(os.Stat, os.ReadFile)
	return info
}

// detectContainer checks well-known markers for Docker and Kubernetes
func detectContainer(stat func(string) (os.FileInfo, error), readFile func(string) ([]byte, error)) (bool, string) {
	if _, err := stat("/.dockerenv"); err == nil {
		return true, "docker"
	}

	if _, err := stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	if data, err := readFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}

	return false, ""
}

// buildInfoCollector exports SystemInfo as a constant gauge
type buildInfoCollector struct {
	desc *prometheus.Desc
	info SystemInfo
}

func newBuildInfoCollector(info SystemInfo) *buildInfoCollector {
	return &buildInfoCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "build_info"),
			"Host and runtime details, always 1",
			[]string{"go_version", "os", "arch", "hostname", "cpus", "container"},
			nil,
		),
		info: info,
	}
}

func (c *buildInfoCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *buildInfoCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, 1,
		c.info.GoVersion,
		c.info.OS,
		c.info.Arch,
		c.info.Hostname,
		strconv.Itoa(c.info.CPULogical),
		c.info.ContainerRuntime,
	)
}
