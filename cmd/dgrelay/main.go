package main

import (
    "os"
)

func main() {
    os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
    code := 0
    cmd := newRootCmd(run, &code)
    cmd.SetArgs(args)
    if err := cmd.Execute(); err != nil {
        _, _ = os.Stderr.WriteString("dgrelay: " + err.Error() + "\n")
        return 1
    }
    return code
}
