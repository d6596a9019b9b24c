// Package orchestrator — планировщик выполнения workflow.
//
// Orchestrator периодически загружает незавершённые workflow из
// State Store и продвигает каждый на один такт (Advance):
//   - опрашивает RUNNING-шаги через их executor'ы;
//   - связывает выходы завершённых шагов со входами зависимых;
//   - запускает готовые шаги;
//   - помечает недостижимые шаги упавшими (upstream-сбой);
//   - пересчитывает статус workflow.
//
// Advance идемпотентен: повторный вызов без изменений во внешнем
// мире не порождает переходов состояния. Всё состояние живёт
// в Workflow и сохраняется после каждого такта, поэтому рестарт
// процесса возобновляет опрос уже отправленных batch-заданий
// без повторной отправки.
package orchestrator
