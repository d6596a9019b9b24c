// Package cli реализует инструмент командной строки Canis.
//
// # Обзор
//
// CLI работает напрямую с файловым State Store (без сетевого API):
// создаёт workflow из graph- и seed-спецификаций, продвигает их,
// экспортирует датасеты и управляет расписаниями генерации.
//
// # Ключевые компоненты
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: canis workflow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - workflow: create, list, show, advance, run, cancel, delete,
//     export, snapshot (create, list, restore)
//   - schedule: list, create, show, enable, disable, delete
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd и
// т.д.), принимающую storeFn и outputFn — замыкания для ленивого
// создания хранилища и Output после парсинга PersistentFlags.
//
// Команды advance и run поднимают одноразовый Orchestrator поверх
// того же файлового хранилища: batch-задания отправляются с ключом
// из OPENAI_API_KEY, состояние сохраняется после каждого такта.
package cli
