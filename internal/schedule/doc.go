// Package schedule реализует регулярную генерацию датасетов.
//
// Schedule периодически проверяет определения с истекшим next_due_at
// и создаёт новые workflow из их графа и seed-спецификации.
//
// Структура:
//   - schedule.go  — Definition и вычисление следующего времени (cron.go идиома)
//   - scheduler.go — основная логика Scheduler (Tick, processDefinition)
//   - filesource.go — файловое хранилище определений
//
// Идемпотентность: имя создаваемого workflow детерминировано
// ("<schedule>-<unix next_due_at>"), поэтому повторный тик для того же
// времени не создаёт дубликат.
package schedule
