// Package version хранит имя и версию приложения для CLI и паспорта устройства.
package version

const (
	// Name — имя приложения.
	Name = "telegram-terminal"
	// Version — версия приложения. Обновляется при релизе.
	Version = "1.0.0"
)
