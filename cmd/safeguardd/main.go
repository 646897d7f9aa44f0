package main

// main 是 safeguardd 的入口。
func main() {
	Execute()
}
