package main

// @title EDO Approval API
// @version 1.0.0
// @description Electronic document workflow: drafting, multi-approver sign-off, comments and templates.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	Execute()
}
