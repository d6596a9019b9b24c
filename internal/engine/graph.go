package engine

import (
	"strings"

	"github.com/shaiso/Canis/internal/domain"
)

// Node — узел в графе зависимостей.
type Node struct {
	// Step — материализованный шаг workflow.
	Step *domain.Step

	// ID — идентификатор шага.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф шагов workflow.
//
// Рёбра выводятся из источников входных слотов: если вход шага B
// ссылается на выход шага A ("a.result"), появляется ребро A → B.
// Константные и external-входы рёбер не порождают.
type Graph struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// Build строит граф зависимостей из шагов workflow.
// Возвращает ErrCyclicDependency, если граф содержит цикл.
func Build(wf *domain.Workflow) (*Graph, error) {
	g := &Graph{
		Nodes:     make(map[string]*Node, len(wf.Steps)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for id, step := range wf.Steps {
		g.Nodes[id] = &Node{
			Step:       step,
			ID:         id,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по источникам слотов
	for _, node := range g.Nodes {
		for _, in := range node.Step.Inputs {
			if in.From == "" || strings.HasPrefix(in.From, externalPrefix) {
				continue
			}
			stepID, _, ok := strings.Cut(in.From, ".")
			if !ok {
				return nil, newConfigError(node.ID, in.Name,
					"malformed slot source: "+in.From, ErrDanglingReference)
			}
			producer, exists := g.Nodes[stepID]
			if !exists {
				return nil, newConfigError(node.ID, in.Name,
					"references unknown step: "+stepID, ErrDanglingReference)
			}
			g.addEdge(producer, node)
		}
	}

	g.findRootNodes()

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учёта
// InDegree, когда шаг потребляет несколько выходов одного источника.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetNode возвращает узел по ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// ReadySteps возвращает шаги, готовые к запуску.
//
// Шаг готов, если:
//   - он в статусе PENDING или READY
//   - все его обязательные входы связаны с данными
//   - все шаги, от которых он зависит, завершились успешно
func (g *Graph) ReadySteps() []*domain.Step {
	ready := make([]*domain.Step, 0)

	// Обход в топологическом порядке даёт стабильный порядок запуска.
	for _, node := range g.Order {
		step := node.Step
		if step.Status != domain.StepStatusPending && step.Status != domain.StepStatusReady {
			continue
		}
		if !step.InputsBound() {
			continue
		}

		depsCompleted := true
		for _, dep := range node.DependsOn {
			st := dep.Step.Status
			if st == domain.StepStatusCompleted {
				continue
			}
			// Терминально-неуспешный источник не блокирует шаг,
			// если питает на нём только опциональные слоты.
			if (st == domain.StepStatusFailed || st == domain.StepStatusCancelled) &&
				feedsOnlyOptional(step, dep.ID) {
				continue
			}
			depsCompleted = false
			break
		}
		if depsCompleted {
			ready = append(ready, step)
		}
	}

	return ready
}

// feedsOnlyOptional сообщает, что все слоты шага, питаемые указанным
// источником, опциональны.
func feedsOnlyOptional(step *domain.Step, producerID string) bool {
	for _, in := range step.Inputs {
		if in.From == "" || strings.HasPrefix(in.From, externalPrefix) {
			continue
		}
		stepID, _, _ := strings.Cut(in.From, ".")
		if stepID == producerID && !in.Optional {
			return false
		}
	}
	return true
}

// Downstream возвращает все шаги, транзитивно зависящие от указанного.
// Используется для каскадной отмены при отказе источника данных.
func (g *Graph) Downstream(stepID string) []*domain.Step {
	start := g.Nodes[stepID]
	if start == nil {
		return nil
	}

	visited := make(map[string]bool)
	queue := make([]*Node, 0, len(start.Dependents))
	queue = append(queue, start.Dependents...)

	steps := make([]*domain.Step, 0)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node.ID] {
			continue
		}
		visited[node.ID] = true
		steps = append(steps, node.Step)
		queue = append(queue, node.Dependents...)
	}

	return steps
}

// Stranded возвращает шаги, которые уже никогда не смогут запуститься:
// среди их зависимостей есть терминально-неуспешный шаг, и при этом
// питаемый им слот не является опциональным.
func (g *Graph) Stranded() []*domain.Step {
	stranded := make([]*domain.Step, 0)

	for _, node := range g.Order {
		step := node.Step
		if step.IsTerminal() || step.Status == domain.StepStatusRunning {
			continue
		}

		for _, in := range step.Inputs {
			if in.Bound() || in.Optional || in.From == "" {
				continue
			}
			stepID, _, ok := strings.Cut(in.From, ".")
			if !ok || strings.HasPrefix(in.From, externalPrefix) {
				continue
			}
			producer := g.Nodes[stepID]
			if producer == nil {
				continue
			}
			st := producer.Step.Status
			if st == domain.StepStatusFailed || st == domain.StepStatusCancelled {
				stranded = append(stranded, step)
				break
			}
		}
	}

	return stranded
}
