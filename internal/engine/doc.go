// Package engine строит граф зависимостей workflow из GraphSpec
// и валидирует его до начала выполнения: уникальность шагов,
// корректность ссылок между слотами, совместимость типов,
// отсутствие циклов (топологическая сортировка).
//
// Все ошибки этого пакета — ошибки конфигурации: они фатальны
// для запуска и никогда не являются условием для retry.
package engine
