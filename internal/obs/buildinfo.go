package obs

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info: constant 1 labelled with what is running.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authority_build_info",
			Help: "Authority API build information.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo publishes authority_build_info. An empty commit falls back to
// the VCS revision stamped by the Go toolchain, if any.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	goVersion := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
		if commit == "" || commit == "dev" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
