package token

// ParseJWTFunc 測試時可覆蓋，ParseBearer 透過這個變數解析
var ParseJWTFunc = ParseJWT
