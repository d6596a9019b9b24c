// Пакет executor содержит по одному executor'у на вид шага.
//
// llm-шаги асинхронны: Start отправляет batch и возвращает управление,
// Poll доводит job до результата. code-шаги синхронны и завершаются
// прямо в Start. chip-шаги разворачиваются во вложенный workflow,
// который продвигается на каждом Poll.
//
// Executor меняет только свой шаг и его job; статусами шага и
// сохранением состояния управляет планировщик.
package executor
