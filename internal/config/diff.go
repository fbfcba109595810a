package config

import (
	"reflect"
	"sort"
	"strings"

	logx "paybybot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured fields for logging (never passwords or tokens),
// and (3) the names of tasks that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}
	if !reflect.DeepEqual(oldCfg.Provider, newCfg.Provider) {
		changed = append(changed, "provider")
		fields = append(fields, logx.String("provider.driver", newCfg.Provider.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}

	tasks := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(tasks) > 0 {
		changed = append(changed, "tasks")
		fields = append(fields, logx.Int("tasks.count", len(newCfg.Tasks)), logx.Int("tasks.changed", len(tasks)))
	}
	return changed, fields, tasks
}

func diffTasks(oldTasks, newTasks []TaskConfig) []string {
	index := func(in []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(in))
		for _, t := range in {
			m[TaskName(t)] = t
		}
		return m
	}
	o, n := index(oldTasks), index(newTasks)

	var out []string
	for name, t := range n {
		if prev, ok := o[name]; !ok || !reflect.DeepEqual(prev, t) {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TaskName is the configured name, or plate@location when unset.
func TaskName(t TaskConfig) string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	loc := strings.TrimSpace(t.Location)
	if loc == "" && t.Pay != nil {
		loc = strings.TrimSpace(t.Pay.Location)
	}
	if loc == "" {
		return strings.TrimSpace(t.Plate)
	}
	return strings.TrimSpace(t.Plate) + "@" + loc
}
