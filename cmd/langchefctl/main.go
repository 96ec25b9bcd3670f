// langchefctl signs in to LangChef from a terminal using the AWS SSO device flow.
package main

import "github.com/deepskandpal/LangChef/cmd/langchefctl/cmd"

func main() {
	cmd.Execute()
}
