package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed spaces.sql
var spacesSQL string

//go:embed documents.sql
var documentsSQL string

// Function lists for verification
var SpacesFunctions = []string{
	"init_spaces",
	"init_space_table",
	"insert_space",
	"select_space",
	"select_all_spaces",
	"update_space_index",
	"select_space_table_dimension",
	"delete_space",
}

var DocumentsFunctions = []string{
	"insert_document",
	"upsert_document",
	"select_document",
	"select_all_documents",
	"count_documents",
	"count_documents_filtered",
	"search_documents",
	"delete_document",
	"clear_documents",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadSpacesSql loads the space registry SQL functions
func LoadSpacesSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, SpacesFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing spaces functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(spacesSQL)
	if err != nil {
		return fmt.Errorf("error executing spaces SQL: %w", err)
	}

	exist, err := checkFunctions(db, SpacesFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL spaces functions loaded successfully")
	return nil
}

// LoadDocumentsSql loads document-related SQL functions
func LoadDocumentsSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, DocumentsFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing documents functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(documentsSQL)
	if err != nil {
		return fmt.Errorf("error executing documents SQL: %w", err)
	}

	exist, err := checkFunctions(db, DocumentsFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL documents functions loaded successfully")
	return nil
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadSpacesSql(db, force); err != nil {
		return err
	}

	if err := LoadDocumentsSql(db, force); err != nil {
		return err
	}

	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
