// Package intake загружает задачи и исполнителей из YAML/JSON файлов.
//
// Loader читает seed-файлы при старте, Watcher следит за каталогом
// и добавляет задачи из новых или изменённых файлов.
package intake
