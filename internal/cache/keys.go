package cache

// Схема ключей общая для сервиса марок и свипера:
// mark:{code} — сериализованная марка, validation:{code} — результат проверки.

func MarkKey(code string) string {
	return "mark:" + code
}

func ValidationKey(code string) string {
	return "validation:" + code
}
