// Package monitor renders prune-run artefacts: an opacity histogram PNG
// comparing a scene before and after pruning, and an HTML page charting
// the statistics of one or more prune reports.
package monitor
