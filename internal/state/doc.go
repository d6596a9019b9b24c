// Пакет state отвечает за durable-хранение workflow.
//
// Состояние самодостаточно: из него полностью восстанавливаются
// workflow, шаги, данные и batch-job'ы после рестарта процесса,
// включая достаточно информации для возобновления опроса job'а,
// который был в полёте.
//
// Две реализации Store: FileStore (каталог на диске, атомарная запись
// через temp+rename) и PGStore (PostgreSQL через pgx). Крупные значения
// выносятся в content-addressed артефакты и адресуются по sha256.
package state
