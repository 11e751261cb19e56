package obs

import "github.com/prometheus/client_golang/prometheus"

// buildInfo is a constant 1 labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "authcore build information.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo registers collectors and publishes build_info{version,commit} 1.
func SetBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
