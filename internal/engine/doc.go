// Package engine содержит граф зависимостей задач.
//
// Включает:
//   - graph.go  — граф задач, готовность, поиск циклов, критический путь
//   - parser.go — разбор и валидация спецификаций задач (YAML/JSON)
//
// Граф — единственный владелец записей задач. Остальные компоненты
// получают копии и изменяют задачи только через Update.
package engine
