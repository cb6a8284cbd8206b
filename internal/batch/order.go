// Package batch — оркестратор многоустройственных изменений: топологические стадии,
// ограниченный параллелизм внутри стадии и каскадный откат.
package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// CircularDependencyError — граф не удалось осушить. Ничего не выполнялось.
type CircularDependencyError struct {
	Devices []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("batch: circular dependency between devices: %s", strings.Join(e.Devices, ", "))
}

// DuplicateDeviceError: два элемента на одно устройство.
type DuplicateDeviceError struct {
	Device string
}

func (e *DuplicateDeviceError) Error() string {
	return fmt.Sprintf("batch: device %s appears more than once", e.Device)
}

// BuildExecutionOrder — алгоритм Кана: все вершины с нулевой полустепенью захода на каждом
// шаге образуют одну стадию. Внутри стадии порядок детерминирован: priority desc, затем имя asc.
// Зависимости на устройства вне батча игнорируются (см. UnknownDependencies).
func BuildExecutionOrder(items []domain.BatchItem) ([][]domain.BatchItem, error) {
	byDevice := make(map[string]domain.BatchItem, len(items))
	for _, it := range items {
		if _, dup := byDevice[it.DeviceTarget]; dup {
			return nil, &DuplicateDeviceError{Device: it.DeviceTarget}
		}
		byDevice[it.DeviceTarget] = it
	}

	inDegree := make(map[string]int, len(items))
	dependents := make(map[string][]string, len(items))
	for _, it := range items {
		inDegree[it.DeviceTarget] += 0
		for _, dep := range uniq(it.DependsOn) {
			if _, known := byDevice[dep]; !known {
				continue
			}
			inDegree[it.DeviceTarget]++
			dependents[dep] = append(dependents[dep], it.DeviceTarget)
		}
	}

	var ready []string
	for dev, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, dev)
		}
	}

	var stages [][]domain.BatchItem
	placed := 0
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := byDevice[ready[i]], byDevice[ready[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return a.DeviceTarget < b.DeviceTarget
		})

		stage := make([]domain.BatchItem, 0, len(ready))
		var next []string
		for _, dev := range ready {
			stage = append(stage, byDevice[dev])
			placed++
			for _, d := range dependents[dev] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		stages = append(stages, stage)
		ready = next
	}

	if placed < len(items) {
		var stuck []string
		for dev, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, dev)
			}
		}
		sort.Strings(stuck)
		return nil, &CircularDependencyError{Devices: stuck}
	}
	return stages, nil
}

// UnknownDependencies возвращает пары "устройство -> зависимость вне батча".
func UnknownDependencies(items []domain.BatchItem) map[string][]string {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.DeviceTarget] = struct{}{}
	}
	out := make(map[string][]string)
	for _, it := range items {
		for _, dep := range uniq(it.DependsOn) {
			if _, ok := known[dep]; !ok {
				out[it.DeviceTarget] = append(out[it.DeviceTarget], dep)
			}
		}
	}
	return out
}

// dependentsClosure: все устройства, прямо или транзитивно зависящие от seeds.
func dependentsClosure(items []domain.BatchItem, seeds map[string]bool) map[string]bool {
	dependents := make(map[string][]string)
	for _, it := range items {
		for _, dep := range uniq(it.DependsOn) {
			dependents[dep] = append(dependents[dep], it.DeviceTarget)
		}
	}

	closure := make(map[string]bool)
	queue := make([]string, 0, len(seeds))
	for dev := range seeds {
		queue = append(queue, dev)
	}
	for len(queue) > 0 {
		dev := queue[0]
		queue = queue[1:]
		for _, d := range dependents[dev] {
			if closure[d] {
				continue
			}
			closure[d] = true
			queue = append(queue, d)
		}
	}
	return closure
}

func uniq(list []string) []string {
	if len(list) < 2 {
		return list
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
